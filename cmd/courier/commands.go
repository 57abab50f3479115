package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"

	"github.com/nerrad567/courier-core/internal/api"
	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/infrastructure/database"
	"github.com/nerrad567/courier-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/session"
)

// ErrNoDurableStore is returned by the flows commands when the configured
// backend keeps nothing between runs.
var ErrNoDurableStore = errors.New("flows are only kept by the sqlite backend")

// ============================================================================
// publish
// ============================================================================

func newPublishCmd(configPath *string) *cobra.Command {
	var (
		qos    int
		retain bool
	)

	cmd := &cobra.Command{
		Use:   "publish <topic> <payload>",
		Short: "Publish one message and wait for the broker to acknowledge it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if qos < -1 || qos > 2 {
				return fmt.Errorf("%w: %d", mqtt.ErrInvalidQoS, qos)
			}
			return publish(cmd.Context(), *configPath, args[0], []byte(args[1]), qos, retain)
		},
	}
	cmd.Flags().IntVar(&qos, "qos", -1, "QoS 0, 1 or 2 (default session.qos)")
	cmd.Flags().BoolVar(&retain, "retain", false, "set the retain flag")
	return cmd
}

// publish connects with a throwaway clean session, publishes and closes.
// A qos of -1 selects session.qos.
func publish(ctx context.Context, configPath, topic string, payload []byte, qos int, retain bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if qos < 0 {
		qos = cfg.Session.QoS
	}

	// Never take over the daemon's session or its will.
	cfg.Auth.ClientID = session.GenerateClientID()
	cfg.Session.CleanSession = true
	cfg.Will.Enabled = false
	cfg.Reconnect.Enabled = false

	ctx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout()+time.Second)
	defer cancel()

	client, err := mqtt.Connect(ctx, *cfg, mqtt.Deps{})
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck // best-effort disconnect after publish

	return client.Publish(topic, payload, byte(qos), retain)
}

// ============================================================================
// flows
// ============================================================================

func newFlowsCmd(configPath *string) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Inspect or discard in-flight QoS 1/2 flows in the sqlite store",
	}
	cmd.PersistentFlags().StringVar(&clientID, "client-id", "", "client id (default auth.client_id)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List unacknowledged flows",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withFlowStore(cmd.Context(), *configPath, clientID, func(st persistence.Store, id string) error {
					return listFlows(cmd.Context(), cmd.OutOrStdout(), st, id)
				})
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Delete every flow for the client",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withFlowStore(cmd.Context(), *configPath, clientID, func(st persistence.Store, id string) error {
					if err := st.Purge(cmd.Context(), id); err != nil {
						return fmt.Errorf("purging flows: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "purged flows for %s\n", id)
					return nil
				})
			},
		},
	)
	return cmd
}

// withFlowStore opens the configured sqlite store and calls fn with it.
func withFlowStore(ctx context.Context, configPath, clientID string, fn func(persistence.Store, string) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Persistence.Backend != "sqlite" {
		return ErrNoDurableStore
	}
	if clientID == "" {
		clientID = cfg.Auth.ClientID
	}
	if clientID == "" {
		return fmt.Errorf("--client-id is required when auth.client_id is not set")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // read-mostly command

	return fn(st.flows, clientID)
}

// listFlows renders a client's unacknowledged flows as a table, outgoing
// first, each direction in insertion order.
func listFlows(ctx context.Context, out io.Writer, st persistence.Store, clientID string) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Direction", "ID", "Command", "QoS", "Retries", "Size", "Created", "Topic"})

	total := 0
	for _, dir := range []persistence.Direction{persistence.Outgoing, persistence.Incoming} {
		flows, err := st.Pending(ctx, clientID, dir)
		if err != nil {
			return fmt.Errorf("listing %s flows: %w", dir, err)
		}
		for _, f := range flows {
			t.AppendRow(table.Row{
				f.Direction, f.MessageID, f.Command, f.QoS, f.RetryCount,
				len(f.Payload), f.CreatedAt.Format("2006-01-02 15:04:05"), f.Topic,
			})
			total++
		}
	}

	fmt.Fprintln(out, t.Render())
	fmt.Fprintf(out, "%d flow(s)\n", total)
	return nil
}

// ============================================================================
// db
// ============================================================================

func newDBCmd(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect or roll back the sqlite schema",
	}

	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recent schema migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("rollback can drop stored flows; pass --yes to confirm")
			}
			return withDatabase(cmd.Context(), *configPath, func(db *database.DB) error {
				m, err := db.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s_%s\n", m.Version, m.Name)
				return nil
			})
		},
	}
	rollback.Flags().BoolVar(&yes, "yes", false, "confirm the rollback")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List schema migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), *configPath, func(db *database.DB) error {
					return listMigrations(cmd.Context(), cmd.OutOrStdout(), db)
				})
			},
		},
		rollback,
	)
	return cmd
}

// withDatabase opens the configured sqlite database without migrating it.
func withDatabase(ctx context.Context, configPath string, fn func(*database.DB) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Persistence.Backend != "sqlite" {
		return ErrNoDurableStore
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Persistence.Path,
		WALMode:     cfg.Persistence.WALMode,
		BusyTimeout: cfg.Persistence.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // short-lived command

	return fn(db)
}

func listMigrations(ctx context.Context, out io.Writer, db *database.DB) error {
	status, err := db.Status(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Version", "Name", "Applied"})
	for _, st := range status {
		applied := "pending"
		switch {
		case st.Missing:
			applied = st.AppliedAt.Format(time.RFC3339) + " (file missing)"
		case !st.Pending():
			applied = st.AppliedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{st.Version, st.Name, applied})
	}

	fmt.Fprintln(out, t.Render())
	fmt.Fprintf(out, "%s, %d bytes\n", db.Path(), db.Size())
	return nil
}

// ============================================================================
// token
// ============================================================================

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := api.IssueToken(cfg.API.JWT.Secret, cfg.API.JWT.Issuer, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	return cmd
}
