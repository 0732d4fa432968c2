// Package config loads provisioner settings from TOML, .env and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

// Record sources
const (
	SourceSharePoint = "sharepoint"
	SourceSQLite     = "sqlite"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig         `toml:"general"`
	Pipeline      PipelineConfig        `toml:"pipeline"`
	SharePoint    SharePointConfig      `toml:"sharepoint"`
	Tasks         map[string]TaskConfig `toml:"tasks"`
	Logging       LoggingConfig         `toml:"logging"`
	Notifications NotificationsConfig   `toml:"notifications"`
	Web           WebConfig             `toml:"web"`
	Report        ReportConfig          `toml:"report"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	RunMode             string `toml:"run_mode"`
	Source              string `toml:"source"`
	IntervalMinutes     int    `toml:"interval_minutes"`
	FetchBackoffSeconds int    `toml:"fetch_backoff_seconds"`
	DatabasePath        string `toml:"database_path"`
}

// PipelineConfig describes the task order and applicability rules
type PipelineConfig struct {
	Order     []string `toml:"order"`
	Mandatory []string `toml:"mandatory"`
	// VerificationOrder, if set, replaces Order in verification mode
	VerificationOrder []string `toml:"verification_order"`
	// Fields maps a task ID to the record field that holds its role
	Fields map[string]string `toml:"fields"`
}

// SharePointConfig holds Microsoft Graph list settings
type SharePointConfig struct {
	TenantID        string       `toml:"tenant_id"`
	ClientID        string       `toml:"client_id"`
	ClientSecret    string       `toml:"client_secret"`
	SiteID          string       `toml:"site_id"`
	ListID          string       `toml:"list_id"`
	GraphURL        string       `toml:"graph_url"`
	TokenURL        string       `toml:"token_url"`
	TimeoutSeconds  int          `toml:"timeout_seconds"`
	StatusField     string       `toml:"status_field"`
	TitleField      string       `toml:"title_field"`
	FirstNamesField string       `toml:"first_names_field"`
	LastNamesField  string       `toml:"last_names_field"`
	SelectFields    []string     `toml:"select_fields"`
	Labels          StatusLabels `toml:"labels"`
}

// StatusLabels are the list's display values for each lifecycle status
type StatusLabels struct {
	Approved      string `toml:"approved"`
	InProgress    string `toml:"in_progress"`
	Finished      string `toml:"finished"`
	ErrorReverted string `toml:"error_reverted"`
}

// TaskConfig describes the external command implementing one task
type TaskConfig struct {
	Command        string            `toml:"command"`
	Args           []string          `toml:"args"`
	Env            map[string]string `toml:"env"`
	Dir            string            `toml:"dir"`
	TimeoutMinutes int               `toml:"timeout_minutes"`
}

// LoggingConfig holds diagnostic log settings
type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	Keep      int    `toml:"keep"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web control API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// ReportConfig holds the scheduled digest settings
type ReportConfig struct {
	Enabled           bool   `toml:"enabled"`
	Cron              string `toml:"cron"`
	StuckAfterMinutes int    `toml:"stuck_after_minutes"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".provisioner")

	tasks := make(map[string]TaskConfig)
	for _, id := range defaultOrder {
		tasks[id] = TaskConfig{
			Command: "powershell",
			Args: []string{
				"-NoProfile", "-ExecutionPolicy", "Bypass",
				"-File", filepath.Join("scripts", id+".ps1"),
				"-RequestId", "{{.ID}}",
			},
			TimeoutMinutes: 15,
		}
	}

	return &Config{
		General: GeneralConfig{
			RunMode:             string(domain.ModeProduction),
			Source:              SourceSharePoint,
			IntervalMinutes:     1,
			FetchBackoffSeconds: 5,
			DatabasePath:        filepath.Join(base, "provisioner.db"),
		},
		Pipeline: PipelineConfig{
			Order:     append([]string(nil), defaultOrder...),
			Mandatory: []string{string(domain.TaskPayroll), string(domain.TaskActiveDirectory)},
			Fields: map[string]string{
				string(domain.TaskPayroll):         "Cargo_x003a__x0020_Cargo_x0020_e0",
				string(domain.TaskActiveDirectory): "Cargo",
				string(domain.TaskCobis):           "Cargo_x003a__x0020_Rol_x0020_en_",
				string(domain.TaskSyscard):         "Cargo_x003a__x0020_Rol_x0020_Sys",
				string(domain.TaskExtremeWeb):      "Cargo_x003a__x0020_Rol_x0020_Ext",
			},
		},
		SharePoint: SharePointConfig{
			GraphURL:        "https://graph.microsoft.com/v1.0",
			TimeoutSeconds:  30,
			StatusField:     "Estado",
			TitleField:      "Title",
			FirstNamesField: "Nombres",
			LastNamesField:  "Apellidos",
			SelectFields:    append([]string(nil), defaultSelectFields...),
			Labels: StatusLabels{
				Approved:      "Aprobado",
				InProgress:    "En Proceso",
				Finished:      "Finalizado",
				ErrorReverted: "Error Revertido",
			},
		},
		Tasks: tasks,
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(base, "logs", "provisioner.log"),
			MaxSizeMB: 10,
			Keep:      3,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Report: ReportConfig{
			Cron:              "0 8 * * 1-5",
			StuckAfterMinutes: 120,
		},
	}
}

var defaultOrder = []string{
	string(domain.TaskPayroll),
	string(domain.TaskActiveDirectory),
	string(domain.TaskCobis),
	string(domain.TaskSyscard),
	string(domain.TaskExtremeWeb),
}

// Load reads configuration from a TOML file, falling back to defaults.
// Environment overrides are applied on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyEnv(cfg)

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	for id, t := range cfg.Tasks {
		t.Dir = ExpandPath(t.Dir)
		cfg.Tasks[id] = t
	}

	return cfg, nil
}

// Save writes the configuration as TOML, creating parent directories
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "provisioner", "config.toml")
}

// defaultSelectFields are the request list columns the provisioning scripts read
var defaultSelectFields = []string{
	"id",
	"Title",
	"Oficina",
	"Nombres",
	"Apellidos",
	"G_x00e9_nero",
	"Oficina_x003a__x0020_N_x00fa_mer",
	"Oficina_x003a__x0020_Extreme_x00",
	"Oficina_x003a__x0020_Ciudad_x002",
	"Oficina_x003a__x0020_OU_x0020_Ac",
	"Cargo",
	"Cargo_x003a__x0020_Correo",
	"Cargo_x003a__x0020_Cargo_x0020_e",
	"Cargo_x003a__x0020_Rol_x0020_en_",
	"Cargo_x003a__x0020_Departamento",
	"Cargo_x003a__x0020_Cargo_x0020_e0",
	"Cargo_x003a__x0020_Departamento_0",
	"Cargo_x003a__x0020_Tipo_x0020_Em",
	"Cargo_x003a__x0020_Rol_x0020_Sys",
	"Cargo_x003a__x0020_Rol_x0020_Ext",
	"Cargo_x003a__x0020_Departamento_",
	"JefeInmediato",
	"Login",
	"Correoelectr_x00f3_nico",
	"Departamento",
	"Departamento_x003a__x0020_Unidad",
	"Oficina_x003a_Login_x0020_Nodos_",
	"Oficina_x003a__x0020_Region",
	"Oficina_x003a__x0020_Ciudad_x0020",
	"Oficina_x003a__x0020_Regi_x00f3_",
	"Oficina_x003a__x0020_Provincia",
	"Fechadeingreso",
	"Estado",
}
