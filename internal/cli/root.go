// Package cli wires the dragonfarm command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dragonfarm/internal/adapters/httpapi"
	"dragonfarm/internal/breeding"
	"dragonfarm/internal/catalog"
	"dragonfarm/internal/config"
)

var version = "dev"

// Execute runs the root command against the process arguments and returns an exit code.
func Execute() int {
	if err := NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree. Configuration comes from DRAGONFARM_* variables.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "dragonfarm",
		Short:         "Dragon breeding and genetics engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		newServeCommand(stdout, stderr),
		newSeedCommand(stdout, stderr),
		newBreedCommand(stdout, stderr),
		newTokenCommand(stdout),
	)
	return root
}

// withApp loads configuration, builds the app and closes it after fn.
func withApp(stdout, stderr io.Writer, fn func(*app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, stdout, stderr)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := a.close(ctx); cerr != nil {
			a.logger.Warn("shutdown incomplete", "error", cerr)
		}
	}()
	return fn(a)
}

func newServeCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the breeding workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(stdout, stderr, func(a *app) error {
				ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
				if err != nil {
					return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
				}
				return serve(ctx, a, ln)
			})
		},
	}
}

func newSeedCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the trait catalog's starter dragons into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(stdout, stderr, func(a *app) error {
				created, err := catalog.Seed(cmd.Context(), a.svc, a.catalog)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "seeded %d dragon(s), %d already present\n", created, len(a.catalog.Dragons)-created)
				return nil
			})
		},
	}
}

func newBreedCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		requestID string
		parentA   string
		parentB   string
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "breed",
		Short: "Compute a cross offline without committing it",
		Long: "Replays the cross for a stored breeding request (--request) or for two parents and a seed.\n" +
			"The same parents and seed always produce the same offspring.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if requestID == "" && (parentA == "" || parentB == "") {
				return fmt.Errorf("either --request or both --parent-a and --parent-b are required")
			}
			return withApp(stdout, stderr, func(a *app) error {
				ctx := cmd.Context()
				if requestID != "" {
					req, err := a.svc.GetBreedingRequest(ctx, requestID)
					if err != nil {
						return err
					}
					parentA, parentB, seed = req.ParentAID, req.ParentBID, req.Seed
				}
				preview, err := breeding.PreviewCross(ctx, a.svc, parentA, parentB, seed)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(preview)
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "breeding request id to replay")
	cmd.Flags().StringVar(&parentA, "parent-a", "", "first parent dragon id")
	cmd.Flags().StringVar(&parentB, "parent-b", "", "second parent dragon id")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for the cross")
	return cmd
}

func newTokenCommand(stdout io.Writer) *cobra.Command {
	var (
		subject string
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local development",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			auth, err := httpapi.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			granted := make([]httpapi.Role, 0, len(roles))
			for _, r := range roles {
				switch role := httpapi.Role(r); role {
				case httpapi.RoleAdmin, httpapi.RoleManager, httpapi.RoleUser:
					granted = append(granted, role)
				default:
					return fmt.Errorf("unknown role %q", r)
				}
			}
			tok, err := auth.Issue(subject, granted...)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dev@dragonfarm", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{string(httpapi.RoleUser)}, "granted role (Admin, Manager, User); repeatable")
	return cmd
}
