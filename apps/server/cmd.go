package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"putting-live/apps/server/internal/auth"
	"putting-live/apps/server/internal/config"
	"putting-live/apps/server/internal/store"
	"putting-live/draw"
)

// newRootCmd creates the putting-live command tree. It is called once in main.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "putting-live",
		Short:         "Live putting contest and prize draw server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newHashKeyCmd(),
	)
	return rootCmd
}

// dbHandle is implemented by the SQL-backed stores so the ephemeral store can
// share their connection.
type dbHandle interface {
	DB() *sql.DB
}

func sharedDB(st store.Store) *sql.DB {
	if h, ok := st.(dbHandle); ok {
		return h.DB()
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("store") {
		cfg.StoreMode, _ = cmd.Flags().GetString("store")
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr, _ = cmd.Flags().GetString("addr")
	}
	if err := cfg.Normalize(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres schema at DATABASE_URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := store.OpenPostgresDB(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 4*config.DBCall)
			defer cancel()
			if err := store.MigratePostgres(ctx, db); err != nil {
				return err
			}
			log.Printf("[Server] Postgres schema is up to date")
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var (
		competitionID int64
		firstPlayerID int64
		names         string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Check players in to a competition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if competitionID <= 0 {
				return fmt.Errorf("--competition must be positive")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.StoreMode == config.StoreModeMemory {
				return fmt.Errorf("seeding the memory store has no effect; pick sqlite or postgres")
			}
			st, mode, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			playerID := firstPlayerID
			if playerID <= 0 {
				existing, err := st.Checkins(cmd.Context(), competitionID)
				if err != nil {
					return err
				}
				playerID = nextPlayerID(existing)
			}

			created := 0
			for _, name := range strings.Split(names, ",") {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				c, err := st.CreateCheckin(cmd.Context(), competitionID, playerID, name)
				if err != nil {
					return err
				}
				created++
				playerID++
				log.Printf("[Server] Checked in %s (checkin=%d)", c.Name, c.ID)
			}
			log.Printf("[Server] Seeded %d check-ins into competition %d (%s)", created, competitionID, mode)
			return nil
		},
	}
	cmd.Flags().Int64Var(&competitionID, "competition", 1, "competition id")
	cmd.Flags().Int64Var(&firstPlayerID, "first-player-id", 0, "player id of the first name; 0 continues after the highest checked-in id")
	cmd.Flags().StringVar(&names, "names", "", "comma separated player names")
	cmd.Flags().String("store", "", "store mode override (sqlite|postgres)")
	return cmd
}

// nextPlayerID returns one past the highest player id among existing.
func nextPlayerID(existing []draw.Checkin) int64 {
	var highest int64
	for _, c := range existing {
		if c.PlayerID > highest {
			highest = c.PlayerID
		}
	}
	return highest + 1
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the bcrypt hash to use as ADMIN_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
