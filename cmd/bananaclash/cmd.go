package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bananaclash/internal/app"
	"bananaclash/internal/config"
	"bananaclash/internal/logger"
	"bananaclash/internal/models"
	"bananaclash/internal/service"
	"bananaclash/internal/utils"
)

type options struct {
	name string
	id   string
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	opts := &options{}

	root := &cobra.Command{
		Use:           "bananaclash",
		Short:         "Play BananaClash from the terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := root.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&opts.name, "name", "n", "", "display name (default: a random guest name)")
	fs.StringVar(&opts.id, "id", "", "player id (default: random)")
	fs.String("database-type", "", "database type: sqlite, postgres or mysql (env: DATABASE_TYPE)")
	fs.String("db-path", "", "SQLite database path (env: DB_PATH)")
	fs.String("database-url", "", "PostgreSQL or MySQL connection URL (env: DATABASE_URL)")
	fs.String("log-level", "", "log level (env: LOG_LEVEL)")
	fs.Int("rounds", 0, "rounds per game when hosting (env: TOTAL_ROUNDS)")
	fs.String("advance-policy", "", "all_solved or first_correct (env: ADVANCE_POLICY)")
	for flag, key := range map[string]string{
		"database-type":  "DATABASE_TYPE",
		"db-path":        "DB_PATH",
		"database-url":   "DATABASE_URL",
		"log-level":      "LOG_LEVEL",
		"rounds":         "TOTAL_ROUNDS",
		"advance-policy": "ADVANCE_POLICY",
	} {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Host a private room and print its code",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return play(cmd, v, opts, func(ctx context.Context, c *service.Client) error {
					code, err := c.CreateRoom(ctx)
					if err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "Room %s created. Share the code with a friend.\n", code)
					}
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "join CODE",
			Short: "Join a private room",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return play(cmd, v, opts, func(ctx context.Context, c *service.Client) error {
					return c.JoinRoom(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "online",
			Short: "Play against the next available player",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return play(cmd, v, opts, func(ctx context.Context, c *service.Client) error {
					code, err := c.PlayOnline(ctx)
					if err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "Matched into room %s.\n", code)
					}
					return err
				})
			},
		},
		newMatchesCmd(v, opts),
	)
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}

func newMatchesCmd(v *viper.Viper, opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "List recently finished games",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(cmd.Context(), v, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			matches, err := client.RecentMatches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range matches {
				fmt.Fprintf(out, "%s  room %s  winner %s  %s\n",
					formatTime(m.Timestamp), m.RoomCode, m.WinnerName, formatPlayers(m.Players))
			}
			if len(matches) == 0 {
				fmt.Fprintln(out, "No games played yet.")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "how many games to show")
	return cmd
}

// connect opens the shared database and a client for the configured player
func connect(ctx context.Context, v *viper.Viper, opts *options) (*service.Client, func(), error) {
	cfg := config.FromViper(v)
	log := logger.NewWithWriter(os.Stderr, cfg.Env, cfg.LogLevel)

	name := opts.name
	if strings.TrimSpace(name) == "" {
		generated, err := utils.GenerateGuestName()
		if err != nil {
			return nil, nil, err
		}
		name = generated
	}
	name, err := utils.NormalizeUsername(name)
	if err != nil {
		return nil, nil, err
	}
	id := opts.id
	if id == "" {
		id = uuid.NewString()
	}

	rt, err := app.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	client, err := rt.NewClient(ctx, models.Identity{ID: id, Name: name})
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		_ = rt.Close()
	}, nil
}

// play enters a room with enter and then drives the game from stdin
func play(cmd *cobra.Command, v *viper.Viper, opts *options, enter func(context.Context, *service.Client) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, cleanup, err := connect(ctx, v, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	t := newTerminal(client, cmd.InOrStdin(), cmd.OutOrStdout())
	if err := enter(ctx, client); err != nil {
		return err
	}
	return t.run(ctx)
}
