package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/report"
	"github.com/dd0wney/malaphor/pkg/server"
	"github.com/dd0wney/malaphor/pkg/validation"
)

type analyzeOptions struct {
	req     server.SourceRequest
	format  string
	top     int
	output  string
	archive string
}

func newAnalyzeCmd(global *globalOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [events.csv]",
		Short: "Rank the riskiest paths in an event table",
		Long: `Builds the relationship graph from one event table, scores every entity for
anomaly, and prints the start-to-end paths with the highest risk first.

Events come from a CSV file (positional argument or --file), an S3 key or
prefix (--s3-key), or the configured PostgreSQL table (--postgres).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if opts.req.File != "" {
					return fmt.Errorf("pass the file either as an argument or with --file")
				}
				opts.req.File = args[0]
			}
			return runAnalyze(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.req.File, "file", "f", "", "CSV event table on disk")
	cmd.Flags().StringVar(&opts.req.S3Key, "s3-key", "", "S3 object key, or a prefix ending in / to load every .csv below it")
	cmd.Flags().BoolVar(&opts.req.Postgres, "postgres", false, "read events from the configured PostgreSQL table")
	cmd.Flags().Int64Var(&opts.req.Since, "since", 0, "with --postgres, first unix timestamp to include")
	cmd.Flags().Int64Var(&opts.req.Until, "until", 0, "with --postgres, unix timestamp to stop before")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text or json")
	cmd.Flags().IntVar(&opts.top, "top-anomalies", report.DefaultTextOptions().TopAnomalies, "entities listed in the anomaly section of text output")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "also write the JSON result to this file")
	cmd.Flags().StringVar(&opts.archive, "archive", "", "archive directory for the compressed result (overrides storage.archive_dir)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, global *globalOptions, opts *analyzeOptions) error {
	if err := validation.Var("format", opts.format, "oneof=text json"); err != nil {
		return err
	}
	if err := validation.Var("top-anomalies", opts.top, "gte=0"); err != nil {
		return err
	}
	cfg, err := global.load()
	if err != nil {
		return err
	}
	if opts.archive != "" {
		cfg.Storage.ArchiveDir = opts.archive
	}

	ctx := cmd.Context()
	stack, err := server.Build(ctx, cfg, global.logger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer stack.Close()

	src, release, err := stack.OpenSource(ctx, opts.req)
	if err != nil {
		return err
	}
	evs, err := src.Load(ctx)
	release()
	if err != nil {
		return fmt.Errorf("load events from %s: %w", src.Name(), err)
	}

	res, err := stack.Pipeline.Run(ctx, evs)
	if err != nil {
		return err
	}

	if opts.output != "" {
		if err := writeResultFile(opts.output, res); err != nil {
			return err
		}
	}
	if location := stack.Fanout().Deliver(ctx, res, "cli:"+src.Name()); location != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "report saved to %s\n", location)
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		return report.WriteJSON(out, res)
	}
	textOpts := report.DefaultTextOptions()
	textOpts.TopAnomalies = opts.top
	return report.RenderText(out, res, textOpts)
}

// writeResultFile writes res as indented JSON to path, replacing any
// existing file.
func writeResultFile(path string, res *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteJSON(f, res); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
