package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier pops a native notification on the operator's workstation
type DesktopNotifier struct {
	enabled bool
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled, run: runCommand}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	name, args, ok := desktopCommand(runtime.GOOS, n)
	if !ok {
		return nil // Unsupported
	}
	return d.run(name, args...)
}

func desktopCommand(goos string, n Notification) (string, []string, bool) {
	switch goos {
	case "darwin":
		script := `display notification "` + escapeQuotes(n.Message) + `" with title "` + escapeQuotes(n.Title) + `"`
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{"--icon", IconForType(n.Type), n.Title, n.Message}, true
	case "windows":
		// msg.exe is present on every supported Windows edition
		return "msg", []string{"*", "/TIME:30", n.Title + ": " + n.Message}, true
	default:
		return "", nil, false
	}
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
