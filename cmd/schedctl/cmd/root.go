package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/db"
	"github.com/austindbirch/harbor_scheduler/internal/queue"
	"github.com/austindbirch/harbor_scheduler/internal/schedule"
)

var (
	cfgFile    string
	dsn        string
	timeout    time.Duration
	outputJSON bool

	vp = viper.New()
)

// JobStore is the part of the delayed queue schedctl works with.
type JobStore interface {
	Peek(ctx context.Context, lane schedule.Lane, offset, limit int) ([]schedule.Job, error)
	Count(ctx context.Context, lane schedule.Lane) (int, error)
	RemoveDelayed(ctx context.Context, lane schedule.Lane, args schedule.Args) error
}

// openStore connects to the jobs database. Tests replace it.
var openStore = func(ctx context.Context, dsn string) (JobStore, func(), error) {
	pool, err := db.ConnectWithMax(ctx, dsn, 2)
	if err != nil {
		return nil, nil, err
	}
	return queue.NewStore(pool), pool.Close, nil
}

// NewRootCmd builds the schedctl command tree.
func NewRootCmd() *cobra.Command {
	vp = viper.New()
	root := &cobra.Command{
		Use:   "schedctl",
		Short: "Harbor Scheduler CLI - inspect and manage scheduled publish jobs",
		Long: `schedctl is a command line tool for operating the Harbor Scheduler.

You can use it to list and remove pending publish/unpublish jobs and to
validate a spaces configuration file before deploying it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig(cmd)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.schedctl.yaml)")
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN of the jobs database (default from DATABASE_URL / DB_* env)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	_ = vp.BindPFlag("dsn", root.PersistentFlags().Lookup("dsn"))
	_ = vp.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	_ = vp.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(newJobsCmd(), newConfigCmd(), newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// initConfig reads in config file and ENV variables if set.
func initConfig(cmd *cobra.Command) {
	if cfgFile != "" {
		vp.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		vp.AddConfigPath(home)
		vp.SetConfigType("yaml")
		vp.SetConfigName(".schedctl")
	}

	vp.SetEnvPrefix("SCHEDCTL")
	vp.AutomaticEnv()

	if err := vp.ReadInConfig(); err == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", vp.ConfigFileUsed())
	}

	flags := cmd.Root().PersistentFlags()
	if !flags.Changed("dsn") {
		dsn = vp.GetString("dsn")
	}
	if !flags.Changed("timeout") {
		if d := vp.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !flags.Changed("json") {
		outputJSON = vp.GetBool("json")
	}
}

// resolveDSN falls back to the services' own environment.
func resolveDSN() string {
	if dsn != "" {
		return dsn
	}
	return config.FromEnv().DSN()
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, s JobStore) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	store, closeFn, err := openStore(ctx, resolveDSN())
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer closeFn()
	return fn(ctx, store)
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
