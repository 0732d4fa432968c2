package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings
const (
	EnvTenantID     = "SP_TENANT_ID"
	EnvClientID     = "SP_CLIENT_ID"
	EnvClientSecret = "SP_CLIENT_SECRET"
	EnvSiteID       = "SP_SITE_ID"
	EnvListID       = "SP_LIST_ID"
	EnvRunMode      = "PROVISIONER_RUN_MODE"
	EnvSource       = "PROVISIONER_SOURCE"
	EnvSlackWebhook = "PROVISIONER_SLACK_WEBHOOK"
)

// LoadEnv loads variables from a .env file without overriding ones already
// set. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides credentials and mode from the environment
func ApplyEnv(cfg *Config) {
	override(&cfg.SharePoint.TenantID, EnvTenantID)
	override(&cfg.SharePoint.ClientID, EnvClientID)
	override(&cfg.SharePoint.ClientSecret, EnvClientSecret)
	override(&cfg.SharePoint.SiteID, EnvSiteID)
	override(&cfg.SharePoint.ListID, EnvListID)
	override(&cfg.General.RunMode, EnvRunMode)
	override(&cfg.General.Source, EnvSource)
	override(&cfg.Notifications.SlackWebhook, EnvSlackWebhook)
}

func override(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
