package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.nanomsg.org/mangos/v3"

	"github.com/dd0wney/malaphor/pkg/notify"
)

// watchPoll bounds each receive so cancellation is noticed.
const watchPoll = time.Second

func newWatchCmd(global *globalOptions) *cobra.Command {
	var (
		addr   string
		count  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow run summaries published by servers and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := global.load()
				if err != nil {
					return err
				}
				addr = cfg.Notify.PublishAddr
			}
			if addr == "" {
				return fmt.Errorf("no publisher address: pass --addr or set notify.publish_addr")
			}

			sub, err := notify.Subscribe(addr)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx := cmd.Context()
			for seen := 0; count == 0 || seen < count; {
				if ctx.Err() != nil {
					return nil
				}
				s, err := sub.Next(watchPoll)
				if errors.Is(err, mangos.ErrRecvTimeout) {
					continue
				}
				if err != nil {
					return err
				}
				seen++
				if err := printSummary(cmd.OutOrStdout(), s, asJSON); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "publisher address (default notify.publish_addr)")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many summaries (0 follows forever)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print summaries as JSON lines")
	return cmd
}

func printSummary(w io.Writer, s notify.Summary, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(s)
	}
	top := "-"
	if s.TopScore != nil {
		top = fmt.Sprintf("%.4f %s", *s.TopScore, s.TopPath)
	}
	_, err := fmt.Fprintf(w, "%s  %-24s  run=%s entities=%d paths=%d outliers=%d truncated=%t top=%s\n",
		s.StartedAt.Format(time.RFC3339), s.Source, s.RunID, s.Entities, s.PathsFound, s.Outliers, s.Truncated, top)
	if err == nil && s.ReportURL != "" {
		_, err = fmt.Fprintf(w, "    report: %s\n", s.ReportURL)
	}
	return err
}
