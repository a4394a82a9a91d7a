package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/logging"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "malaphor",
		Short:        "Malaphor: risky-path discovery over cloud relationship graphs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is applied")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newAuditCmd(opts),
		newCertCmd(),
		newGenerateCmd(opts),
		newServeCmd(opts),
		newTokenCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// load reads the configuration in precedence order: defaults, file,
// dotenv, environment, flags.
func (o *globalOptions) load() (config.Config, error) {
	if o.envFile != "" {
		if err := config.LoadDotEnv(o.envFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// logger writes JSON logs to w so that stdout stays free for results.
func (o *globalOptions) logger(cfg config.Config, w io.Writer) logging.Logger {
	return logging.NewJSONLogger(w, logging.ParseLevel(cfg.Log.Level))
}
