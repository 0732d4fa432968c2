package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

// Resolved is the validated, typed view of the pipeline settings for the
// configured run mode
type Resolved struct {
	Mode         domain.RunMode
	Order        []domain.TaskID
	Mandatory    []domain.TaskID
	Fields       map[domain.TaskID]string
	Interval     time.Duration
	FetchBackoff time.Duration
}

// Validate checks the configuration before the loop starts. Every problem
// is reported as a *domain.ConfigError.
func (c *Config) Validate() error {
	g := c.General
	if g.IntervalMinutes <= 0 {
		return cfgErr("general.interval_minutes", "must be positive, got %d", g.IntervalMinutes)
	}
	if g.FetchBackoffSeconds <= 0 {
		return cfgErr("general.fetch_backoff_seconds", "must be positive, got %d", g.FetchBackoffSeconds)
	}
	if g.FetchBackoffSeconds >= g.IntervalMinutes*60 {
		return cfgErr("general.fetch_backoff_seconds", "must be shorter than the polling interval")
	}
	mode, err := domain.ParseRunMode(g.RunMode)
	if err != nil {
		return err
	}

	switch g.Source {
	case SourceSharePoint:
		if err := c.SharePoint.validate(); err != nil {
			return err
		}
	case SourceSQLite:
		if g.DatabasePath == "" {
			return cfgErr("general.database_path", "required for the sqlite source")
		}
	default:
		return cfgErr("general.source", "unknown source %q", g.Source)
	}

	p := c.Pipeline
	if len(p.Order) == 0 {
		return cfgErr("pipeline.order", "must list at least one task")
	}
	known := make(map[string]bool, len(p.Order))
	for _, id := range p.Order {
		if strings.TrimSpace(id) == "" {
			return cfgErr("pipeline.order", "empty task id")
		}
		if known[id] {
			return cfgErr("pipeline.order", "task %q listed twice", id)
		}
		known[id] = true
	}

	mandatory := make(map[string]bool, len(p.Mandatory))
	for _, id := range p.Mandatory {
		if !known[id] {
			return cfgErr("pipeline.mandatory", "task %q is not in pipeline.order", id)
		}
		mandatory[id] = true
	}

	for _, id := range p.Order {
		if mandatory[id] {
			continue
		}
		if strings.TrimSpace(p.Fields[id]) == "" {
			return cfgErr("pipeline.fields."+id, "conditional task has no field mapping")
		}
	}

	seen := make(map[string]bool, len(p.VerificationOrder))
	for _, id := range p.VerificationOrder {
		if !known[id] {
			return cfgErr("pipeline.verification_order", "task %q is not in pipeline.order", id)
		}
		if seen[id] {
			return cfgErr("pipeline.verification_order", "task %q listed twice", id)
		}
		seen[id] = true
	}

	for _, id := range c.effectiveOrder(mode) {
		t, ok := c.Tasks[id]
		if !ok || strings.TrimSpace(t.Command) == "" {
			return cfgErr("tasks."+id+".command", "no command configured")
		}
		if t.TimeoutMinutes < 0 {
			return cfgErr("tasks."+id+".timeout_minutes", "must not be negative")
		}
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return cfgErr("web.port", "out of range: %d", c.Web.Port)
	}

	if c.Report.Enabled {
		if _, err := cron.ParseStandard(c.Report.Cron); err != nil {
			return cfgErr("report.cron", "%v", err)
		}
		if c.Report.StuckAfterMinutes <= 0 {
			return cfgErr("report.stuck_after_minutes", "must be positive")
		}
	}
	return nil
}

func (s SharePointConfig) validate() error {
	required := []struct{ field, value string }{
		{"sharepoint.tenant_id", s.TenantID},
		{"sharepoint.client_id", s.ClientID},
		{"sharepoint.client_secret", s.ClientSecret},
		{"sharepoint.site_id", s.SiteID},
		{"sharepoint.list_id", s.ListID},
		{"sharepoint.status_field", s.StatusField},
		{"sharepoint.labels.approved", s.Labels.Approved},
		{"sharepoint.labels.in_progress", s.Labels.InProgress},
		{"sharepoint.labels.finished", s.Labels.Finished},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return cfgErr(r.field, "required for the sharepoint source")
		}
	}
	return nil
}

// Resolve validates the configuration and returns the typed pipeline view
func (c *Config) Resolve() (*Resolved, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	mode, _ := domain.ParseRunMode(c.General.RunMode)

	r := &Resolved{
		Mode:         mode,
		Fields:       make(map[domain.TaskID]string, len(c.Pipeline.Fields)),
		Interval:     time.Duration(c.General.IntervalMinutes) * time.Minute,
		FetchBackoff: time.Duration(c.General.FetchBackoffSeconds) * time.Second,
	}
	for _, id := range c.effectiveOrder(mode) {
		r.Order = append(r.Order, domain.TaskID(id))
	}
	for _, id := range c.Pipeline.Mandatory {
		r.Mandatory = append(r.Mandatory, domain.TaskID(id))
	}
	for id, field := range c.Pipeline.Fields {
		r.Fields[domain.TaskID(id)] = strings.TrimSpace(field)
	}
	return r, nil
}

func (c *Config) effectiveOrder(mode domain.RunMode) []string {
	if mode == domain.ModeVerification && len(c.Pipeline.VerificationOrder) > 0 {
		return c.Pipeline.VerificationOrder
	}
	return c.Pipeline.Order
}

func cfgErr(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
