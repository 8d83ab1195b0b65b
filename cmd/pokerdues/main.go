package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/susu3304/pokerdues/internal/api"
	"github.com/susu3304/pokerdues/internal/config"
	"github.com/susu3304/pokerdues/internal/db"
	"github.com/susu3304/pokerdues/internal/game"
	"github.com/susu3304/pokerdues/internal/report"
	"github.com/susu3304/pokerdues/internal/stats"
	"github.com/susu3304/pokerdues/internal/store"
)

type backend interface {
	game.Repository
	stats.Store
}

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "pokerdues",
	Short:         "Settle who pays whom after a home poker game",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		loaded.ApplyLogging()
		cfg = loaded
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.CheckServe(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, closeFn, err := openService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		err = api.New(cfg, svc).Start(ctx)
		log.Info("Shutting down...")
		return err
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle the current game and print the payments",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostName, _ := cmd.Flags().GetString("host")
		expenseText, _ := cmd.Flags().GetString("expense")

		expense, err := game.ParseAmount(expenseText)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, closeFn, err := openService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		hostID, err := findHost(svc.Players(), hostName)
		if err != nil {
			return err
		}

		res, err := svc.Settle(ctx, hostID, expense)
		if err != nil {
			return errors.New(game.UserMessage(err))
		}
		return report.RenderSettlement(cmd.OutOrStdout(), res.Original, res.Final)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print this year's results per player",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, closeFn, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		agg, err := stats.NewAggregator(ctx, repo)
		if err != nil {
			return err
		}
		summaries, err := agg.Summaries()
		if err != nil {
			return err
		}
		return report.RenderYearTotals(cmd.OutOrStdout(), agg.Now().Year(), summaries)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the stats log as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		ctx := cmd.Context()
		repo, closeFn, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		agg, err := stats.NewAggregator(ctx, repo)
		if err != nil {
			return err
		}

		if out == "" {
			return report.ExportStatsCSV(cmd.OutOrStdout(), agg.Records())
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := report.ExportStatsCSV(f, agg.Records()); err != nil {
			return err
		}
		log.WithField("path", out).Info("stats exported")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if cfg.UsesDefaultSecret() {
			log.Warn("signing with the default jwt secret; serve will refuse it")
		}

		token, err := api.IssueToken([]byte(cfg.Web.JWTSecret), subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./pokerdues.yaml if present)")

	settleCmd.Flags().String("host", "", "name of the player who paid the shared expense")
	settleCmd.Flags().String("expense", "", "expense paid by the host")
	exportCmd.Flags().String("out", "", "output file (default stdout)")
	tokenCmd.Flags().String("subject", "pokerdues", "token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd, settleCmd, statsCmd, exportCmd, tokenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}

func openService(ctx context.Context) (*game.Service, func(), error) {
	repo, closeFn, err := openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	agg, err := stats.NewAggregator(ctx, repo)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	svc, err := game.NewService(ctx, repo, agg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}

func openBackend(ctx context.Context) (backend, func(), error) {
	s := cfg.Storage
	switch s.Driver {
	case config.DriverMemory:
		return store.New(store.NewMemoryKV(), s.KeyPrefix), func() {}, nil
	case config.DriverFile:
		return store.New(store.NewFileKV(s.FilePath), s.KeyPrefix), func() {}, nil
	case config.DriverRedis:
		kv, err := store.DialRedis(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return store.New(kv, s.KeyPrefix), func() { _ = kv.Close() }, nil
	case config.DriverPostgres:
		database, err := db.New(ctx, s.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return database, database.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", s.Driver)
	}
}

// findHost resolves a player name to its id; an empty name means no host.
func findHost(players []game.Player, name string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, nil
	}
	for _, p := range players {
		if strings.EqualFold(p.Name, name) {
			return p.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("host %q is not a player in this game", name)
}
