package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/rshell"
	"pkt.systems/rshell/internal/appconfig"
	"pkt.systems/rshell/internal/session"
	"pkt.systems/rshell/schema"
)

func newSessionsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect console sessions in the configured cache",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.AddCommand(newSessionsListCmd(&cfgPath))
	cmd.AddCommand(newSessionsDeleteCmd(&cfgPath))
	return cmd
}

// withSessionStore opens the configured cache for the duration of fn.
func withSessionStore(ctx context.Context, cfgPath string, fn func(*session.Store) error) error {
	path, err := resolveConfigPath(cfgPath)
	if err != nil {
		return err
	}
	cfg, err := appconfig.Load(path)
	if err != nil {
		return err
	}
	c, err := rshell.OpenCache(ctx, cfg.Cache.URL)
	if err != nil {
		return err
	}
	defer c.Close()
	store, err := session.NewStore(c, session.Config{
		Namespace: cfg.Cache.SessionNamespace,
		TTL:       cfg.Cache.SessionTTL(),
	}, nil)
	if err != nil {
		return err
	}
	return fn(store)
}

func newSessionsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(cmd.Context(), *cfgPath, func(store *session.Store) error {
				sessions, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), sessions, time.Now())
			})
		},
	}
}

func newSessionsDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>...",
		Short: "Delete sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(cmd.Context(), *cfgPath, func(store *session.Store) error {
				for _, id := range args {
					if err := store.Delete(cmd.Context(), schema.SessionID(id)); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func printSessions(w io.Writer, sessions []schema.Session, now time.Time) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "no sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tUSER\tAUTH\tHOST\tCREATED\tLAST ACTIVE")
	for _, s := range sessions {
		user := string(s.Username)
		if user == "" {
			user = "-"
		}
		host := s.Host
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
			s.ID, user, s.Authenticated, host,
			humanize.RelTime(s.CreatedAt, now, "ago", "from now"),
			humanize.RelTime(s.LastActivityAt, now, "ago", "from now"),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	noun := "sessions"
	if len(sessions) == 1 {
		noun = "session"
	}
	_, err := fmt.Fprintf(w, "%s %s\n", humanize.Comma(int64(len(sessions))), noun)
	return err
}
