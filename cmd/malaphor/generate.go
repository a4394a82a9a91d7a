package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/malaphor/pkg/events"
	"github.com/dd0wney/malaphor/pkg/sources"
)

func newGenerateCmd(global *globalOptions) *cobra.Command {
	var (
		output   string
		base     int64
		postgres bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic event table with a few planted anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if base != 0 {
				start = time.Unix(base, 0)
			}
			evs := events.GenerateSample(start)

			if postgres {
				cfg, err := global.load()
				if err != nil {
					return err
				}
				src, err := sources.NewPostgresSource(cmd.Context(), cfg.Storage.Postgres)
				if err != nil {
					return err
				}
				defer src.Close()
				n, err := src.Insert(cmd.Context(), evs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "inserted %d events into %s\n", n, cfg.Storage.Postgres.Table)
				return nil
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if err := events.WriteCSV(w, evs); err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d events to %s\n", len(evs), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default stdout)")
	cmd.Flags().Int64Var(&base, "base", 0, "unix timestamp of the first event (default now)")
	cmd.Flags().BoolVar(&postgres, "postgres", false, "insert into the configured PostgreSQL table instead of writing CSV")
	return cmd
}
