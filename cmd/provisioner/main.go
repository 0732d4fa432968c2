package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/config"
)

var (
	configPath string
	envFile    string
	sourceFlag string
	rootCmd    = &cobra.Command{
		Use:   "provisioner",
		Short: "Onboarding provisioner - creates approved employees in downstream systems",
		Long: `Provisioner polls the onboarding request list for approved employees and
runs the per-system provisioning scripts (payroll, directory, core banking,
card management, web portal) for each of them in a fixed order.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with credentials")
	rootCmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "record source: sharepoint or sqlite (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if sourceFlag != "" {
		cfg.General.Source = sourceFlag
	}
	return cfg, nil
}
