package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/app"
	"github.com/mybadgelife/internal/auth"
	"github.com/mybadgelife/internal/config"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/service"
	"github.com/mybadgelife/internal/types"
	"github.com/spf13/cobra"
)

// operator is the actor badgectl acts as for admin-only service calls
var operator = &models.Profile{ID: uuid.Nil.String(), Role: types.RoleAdmin}

var (
	tokenUser  string
	tokenEmail string
	tokenTTL   time.Duration
	keysJSON   bool
)

// tokenCmd mints a bearer token signed with AUTH_JWT_SECRET
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed access token for a user",
	Long: `Mint an HS256 access token signed with AUTH_JWT_SECRET.

The token carries the user id as "sub" and the email claim, using the
configured issuer and audience, so the API accepts it like one issued by
the auth provider. Useful for local testing and scripted admin access.`,
	RunE: runToken,
}

// setRoleCmd changes a member's role
var setRoleCmd = &cobra.Command{
	Use:   "set-role <user-id> <user|maker|admin>",
	Short: "Change a member's role",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetRole,
}

// reindexCmd queues embedding jobs
var reindexCmd = &cobra.Command{
	Use:   "reindex [badge-id]",
	Short: "Queue badge images for embedding",
	Long: `Queue embedding jobs for one badge's images, or for every stored image
when no badge id is given. The indexer binary processes the queue.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReindex,
}

// checkKeysCmd tests provider credentials
var checkKeysCmd = &cobra.Command{
	Use:   "check-keys [replicate|perplexity|serpapi]",
	Short: "Test the configured provider API keys",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckKeys,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User id (uuid) to put in the sub claim")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	checkKeysCmd.Flags().BoolVar(&keysJSON, "json", false, "Print the full report as JSON")
}

func runToken(cmd *cobra.Command, args []string) error {
	if _, err := uuid.Parse(tokenUser); err != nil {
		return fmt.Errorf("--user must be a uuid: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, err := auth.Issue(cfg.Auth.JWTSecret, tokenUser, tokenEmail, tokenTTL, &auth.IssueOptions{
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// withBackend connects to the databases and runs fn against the services
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, backend *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, logging.GetGlobalLogger())

	infra, err := app.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	backend, err := app.New(cfg, infra)
	if err != nil {
		return err
	}
	return fn(ctx, backend)
}

func runSetRole(cmd *cobra.Command, args []string) error {
	id, role := args[0], types.Role(args[1])
	return withBackend(cmd, func(ctx context.Context, backend *app.App) error {
		profile, err := backend.Profiles.SetRole(ctx, operator, id, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", profile.ID, profile.Role)
		return nil
	})
}

func runReindex(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, func(ctx context.Context, backend *app.App) error {
		var (
			queued int
			err    error
		)
		if len(args) == 1 {
			queued, err = backend.Badges.ReindexBadge(ctx, operator, args[0])
		} else {
			queued, err = backend.Matching.ReindexAll(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d image(s) for embedding\n", queued)
		return nil
	})
}

func runCheckKeys(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	diagnostics := newDiagnostics(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var checks []*models.ProviderCheck
	if len(args) == 1 {
		check, err := diagnostics.Check(ctx, args[0])
		if err != nil {
			return err
		}
		checks = []*models.ProviderCheck{check}
	} else {
		report := diagnostics.CheckAll(ctx)
		if keysJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return failedChecks(report.Checks)
		}
		checks = report.Checks
	}

	if keysJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(checks); err != nil {
			return err
		}
	} else {
		printChecks(cmd.OutOrStdout(), checks)
	}
	return failedChecks(checks)
}

func newDiagnostics(cfg *config.Config) *service.DiagnosticsService {
	providers := app.NewProviders(cfg, nil)
	return service.NewDiagnosticsService(providers.Replicate, providers.Perplexity, providers.SerpAPI, providers.Breakers, nil)
}

func printChecks(w io.Writer, checks []*models.ProviderCheck) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATUS\tLATENCY\tDETAIL")
	for _, c := range checks {
		status, detail := "ok", c.Detail
		switch {
		case !c.Configured:
			status = "unset"
			detail = c.Error
		case !c.OK:
			status = "FAIL"
			detail = c.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", c.Provider, status, c.LatencyMs, detail)
	}
	_ = tw.Flush()
}

// failedChecks returns an error when a configured provider failed its check
func failedChecks(checks []*models.ProviderCheck) error {
	failed := 0
	for _, c := range checks {
		if c.Configured && !c.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d provider check(s) failed", failed)
	}
	return nil
}
