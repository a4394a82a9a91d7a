package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	servertls "github.com/dd0wney/malaphor/pkg/tls"
)

func newCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage the API server certificate",
	}
	cmd.AddCommand(newCertGenerateCmd(), newCertInspectCmd())
	return cmd
}

func newCertGenerateCmd() *cobra.Command {
	var (
		hosts    []string
		certFile string
		keyFile  string
		validFor time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a self-signed certificate for server.tls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := servertls.WriteSelfSigned(certFile, keyFile, hosts, validFor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", certFile, keyFile)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "DNS names and IPs the certificate covers")
	cmd.Flags().StringVar(&certFile, "cert", "certs/server.crt", "certificate output path")
	cmd.Flags().StringVar(&keyFile, "key", "certs/server.key", "private key output path")
	cmd.Flags().DurationVar(&validFor, "valid-for", servertls.DefaultValidity, "certificate lifetime")
	return cmd
}

func newCertInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <cert>",
		Short: "Show the subject, names and expiry of a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := servertls.Inspect(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject:   %s\n", info.Subject)
			fmt.Fprintf(out, "issuer:    %s\n", info.Issuer)
			fmt.Fprintf(out, "names:     %s\n", strings.Join(append(info.DNSNames, info.IPs...), ", "))
			fmt.Fprintf(out, "not after: %s\n", info.NotAfter.UTC().Format(time.RFC3339))
			if info.IsExpired() {
				fmt.Fprintln(out, "status:    expired")
			} else {
				fmt.Fprintf(out, "status:    valid for %s\n", info.ExpiresIn().Round(time.Hour))
			}
			return nil
		},
	}
}
