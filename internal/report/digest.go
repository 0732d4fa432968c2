// Package report builds and schedules the provisioning digest sent to
// operators: recent run outcomes plus users left in progress.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/notify"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/store"
)

// Source is the run history the digest reads from
type Source interface {
	Stats(ctx context.Context, since time.Time) (store.RunStats, error)
	StuckUsers(ctx context.Context, olderThan time.Time) ([]store.StuckUser, error)
}

// Digest summarizes provisioning activity over a window
type Digest struct {
	Since      time.Time
	Until      time.Time
	StuckAfter time.Duration
	Stats      store.RunStats
	Stuck      []store.StuckUser
}

// Build collects a digest covering [now-window, now]. Users whose latest
// run has been in progress longer than stuckAfter are listed as stuck.
func Build(ctx context.Context, src Source, now time.Time, window, stuckAfter time.Duration) (Digest, error) {
	d := Digest{
		Since:      now.Add(-window),
		Until:      now,
		StuckAfter: stuckAfter,
	}

	stats, err := src.Stats(ctx, d.Since)
	if err != nil {
		return d, fmt.Errorf("run stats: %w", err)
	}
	d.Stats = stats

	stuck, err := src.StuckUsers(ctx, now.Add(-stuckAfter))
	if err != nil {
		return d, fmt.Errorf("stuck users: %w", err)
	}
	d.Stuck = stuck
	return d, nil
}

// Healthy reports whether nothing in the digest needs operator attention
func (d Digest) Healthy() bool {
	return d.Stats.Failed == 0 && d.Stats.Interrupted == 0 && len(d.Stuck) == 0
}

// Notification renders the digest for a notifier
func (d Digest) Notification() notify.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%d runs since %s: %d provisioned, %d failed, %d interrupted, %d skipped",
		d.Stats.Total, d.Since.Format("2006-01-02 15:04"),
		d.Stats.Succeeded, d.Stats.Failed, d.Stats.Interrupted, d.Stats.Skipped)

	if len(d.Stuck) > 0 {
		fmt.Fprintf(&b, "\n%d users in progress for more than %s:", len(d.Stuck), d.StuckAfter)
		for _, u := range d.Stuck {
			name := u.UserName
			if name == "" {
				name = u.UserID
			}
			fmt.Fprintf(&b, "\n- %s (request %s, since %s)", name, u.UserID, u.StartedAt.Format("2006-01-02 15:04"))
		}
	}

	n := notify.Notification{
		Title:   "Provisioning digest",
		Message: b.String(),
		Type:    notify.NotifyInfo,
	}
	switch {
	case len(d.Stuck) > 0 || d.Stats.Failed > 0:
		n.Type = notify.NotifyWarning
	case d.Stats.Total > 0 && d.Healthy():
		n.Type = notify.NotifySuccess
	}
	return n
}
