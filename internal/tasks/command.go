// Package tasks provides provisioning task implementations that run the
// per-system automation scripts as external processes.
package tasks

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/logsink"
)

// stderrTail is how many trailing stderr lines go into a failure message
const stderrTail = 5

// ErrTimeout is returned when a command exceeds its timeout
var ErrTimeout = errors.New("task timed out")

// Command runs an external program for one task. Args, Env values and Dir
// are text/template strings rendered against the user record, e.g.
// {{.ID}}, {{.DisplayName}} or {{field "Cargo"}}.
type Command struct {
	ID      domain.TaskID
	Path    string
	Args    []string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
	// Sink receives every stdout/stderr line while the command runs
	Sink logsink.Sink
}

// Execute runs the command. Exit code 0 is success; the last stdout line
// becomes the result message.
func (c *Command) Execute(ctx context.Context, user domain.UserRecord) (string, error) {
	if c.Path == "" {
		return "", fmt.Errorf("no command configured for %s", c.ID)
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		v, err := render(a, user)
		if err != nil {
			return "", fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = v
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, args...)
	if c.Dir != "" {
		dir, err := render(c.Dir, user)
		if err != nil {
			return "", fmt.Errorf("dir: %w", err)
		}
		cmd.Dir = dir
	}

	cmd.Env = os.Environ()
	for k, v := range c.Env {
		val, err := render(v, user)
		if err != nil {
			return "", fmt.Errorf("env %s: %w", k, err)
		}
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, val))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", c.Path, err)
	}

	var outLines, errLines []string
	var sinkMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outLines = c.streamOutput(stdout, &sinkMu)
	}()
	go func() {
		defer wg.Done()
		errLines = c.streamOutput(stderr, &sinkMu)
	}()
	wg.Wait()

	err = cmd.Wait()
	if c.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit code %d%s", exitErr.ExitCode(), tail(errLines))
		}
		return "", err
	}

	return lastNonEmpty(outLines), nil
}

// streamOutput collects lines from r; mu serializes sink writes across streams
func (c *Command) streamOutput(r io.Reader, mu *sync.Mutex) []string {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if c.Sink != nil && strings.TrimSpace(line) != "" {
			mu.Lock()
			c.Sink.Line(fmt.Sprintf("    [%s] %s", c.ID, line))
			mu.Unlock()
		}
	}
	return lines
}

func render(text string, user domain.UserRecord) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New("arg").Option("missingkey=error").Funcs(template.FuncMap{
		"field": func(name string) string {
			v, _ := user.Field(name)
			return v
		},
	}).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, user); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}

func tail(lines []string) string {
	var kept []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimSpace(l))
		}
	}
	if len(kept) == 0 {
		return ""
	}
	if len(kept) > stderrTail {
		kept = kept[len(kept)-stderrTail:]
	}
	return ": " + strings.Join(kept, " | ")
}
