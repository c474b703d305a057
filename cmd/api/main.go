package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go-dimension-detective/internal/config"
	"go-dimension-detective/internal/container"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := NewCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewCommand builds the root command; without a subcommand it serves HTTP
func NewCommand() *cobra.Command {
	serve := NewServeCommand()

	cmd := &cobra.Command{
		Use:           "dimension-detective",
		Short:         "Measure objects in photos against a calibrated reference size",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&configPath, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	globalFlags.StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")

	cmd.AddCommand(
		serve,
		NewMeasureCommand(),
		NewVersionCommand(),
	)
	return cmd
}

// NewVersionCommand .
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", container.Version)
		},
	}
}

// loadConfig reads defaults, the config file and the environment, then
// applies command-line overrides
func loadConfig(defaultLevel string) (*config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("CONFIG_FILE", configPath); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to set config path")
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load config")
	}

	switch {
	case logLevel != "":
		cfg.LogLevel = logLevel
	case defaultLevel != "" && os.Getenv("LOG_LEVEL") == "":
		cfg.LogLevel = defaultLevel
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}
