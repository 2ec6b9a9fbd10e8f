package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/tps/internal/profile"
	"github.com/hrygo/tps/server"
	"github.com/hrygo/tps/server/auth"
	"github.com/hrygo/tps/store"
	"github.com/hrygo/tps/store/db"
)

const version = "0.1.0"

var (
	rootCmd = &cobra.Command{
		Use:   "tps",
		Short: "Realtime event distribution and dashboard caching for team planning.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user, for local testing.",
		Args:  cobra.ExactArgs(1),
		RunE:  issueToken,
	}
)

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("secret", "", "HMAC secret for bearer tokens")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "secret"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)

	viper.SetEnvPrefix("tps")
	viper.AutomaticEnv()
}

func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Secret:  viper.GetString("secret"),
		Version: version,
	}
	p.FromEnv()
	if p.Secret == "" && p.IsDev() {
		p.Secret = "tps-" + p.Mode
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func serve(ctx context.Context) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	logger := newLogger(p)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver, err := db.NewDBDriver(p)
	if err != nil {
		return fmt.Errorf("failed to create db driver: %w", err)
	}
	st := store.New(driver, p)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to migrate: %w", err)
	}

	s, err := server.NewServer(ctx, p, st, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.Start(ctx)
	}()

	select {
	case err = <-errc:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)
	return err
}

func issueToken(cmd *cobra.Command, args []string) error {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}
	p, err := loadProfile()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return fmt.Errorf("failed to create db driver: %w", err)
	}
	st := store.New(driver, p)
	defer st.Close()

	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	token, err := auth.NewAuthenticator(p.Secret).Issue(&auth.Principal{
		UserID:      user.ID,
		Role:        user.Role,
		IsSuperuser: user.IsSuperuser,
	}, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func newLogger(p *profile.Profile) *slog.Logger {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if p.Mode == "prod" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
