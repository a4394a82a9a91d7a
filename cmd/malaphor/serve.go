package main

import (
	"github.com/spf13/cobra"

	"github.com/dd0wney/malaphor/pkg/server"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and GraphQL API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger := global.logger(cfg, cmd.ErrOrStderr())
			stack, err := server.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			srv, err := stack.NewAPI()
			if err != nil {
				return err
			}
			g := server.NewGraceful(logger)
			g.SetReloadFunc(stack.ReloadLogLevel(global.configPath))
			return g.Run(cmd.Context(), srv.ListenAndServe)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
