package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/malaphor/pkg/audit"
)

func newAuditCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit journal",
	}
	cmd.AddCommand(newAuditVerifyCmd(global))
	return cmd
}

func newAuditVerifyCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [journal]",
		Short: "Check the hash chain of an audit journal (default storage.audit_log)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := global.load()
				if err != nil {
					return err
				}
				path = cfg.Storage.AuditLog
			}
			if path == "" {
				return errors.New("no journal given and storage.audit_log is not set")
			}

			n, err := audit.Verify(path)
			if err != nil {
				return fmt.Errorf("%s: %w after %d intact records", path, err, n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records, chain intact\n", path, n)
			return nil
		},
	}
}
