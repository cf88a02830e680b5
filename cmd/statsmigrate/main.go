// Command statsmigrate audits and repairs the Redis stat buckets.
//
//	statsmigrate audit
//	statsmigrate rename -from lnk_old -to lnk_new
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/smartsavvy/internal/config"
	"github.com/dukerupert/smartsavvy/internal/database"
	"github.com/dukerupert/smartsavvy/internal/logging"
	"github.com/dukerupert/smartsavvy/internal/stats"
	"github.com/dukerupert/smartsavvy/internal/store"
)

// Exit codes. A data integrity gap is distinct from an operational failure.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitIntegrity = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) == 0 {
		usage(out)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(out, "invalid configuration: %v\n", err)
		return exitFailure
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat).With("component", "statsmigrate")

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return exitFailure
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := stats.NewMigrator(rdb, store.NewLinkStore(db), logger)
	return dispatch(ctx, m, args, out)
}

func dispatch(ctx context.Context, m *stats.Migrator, args []string, out io.Writer) int {
	switch args[0] {
	case "audit":
		return audit(ctx, m, out)
	case "rename":
		return rename(ctx, m, args[1:], out)
	default:
		usage(out)
		return exitUsage
	}
}

func audit(ctx context.Context, m *stats.Migrator, out io.Writer) int {
	report, err := m.Audit(ctx)
	fmt.Fprintf(out, "keys=%d links=%d playlists=%d malformed=%d missing=%d\n",
		report.Keys, report.Links, report.Playlists, len(report.Malformed), len(report.Missing))
	for _, k := range report.Malformed {
		fmt.Fprintf(out, "malformed key: %s\n", k)
	}
	for _, id := range report.Missing {
		fmt.Fprintf(out, "missing link: %s\n", id)
	}
	return exitCode(out, err)
}

func rename(ctx context.Context, m *stats.Migrator, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("rename", flag.ContinueOnError)
	fs.SetOutput(out)
	from := fs.String("from", "", "link id whose buckets are moved")
	to := fs.String("to", "", "link id that receives the buckets")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *from == "" || *to == "" {
		fs.Usage()
		return exitUsage
	}

	moved, err := m.Rename(ctx, *from, *to)
	if err == nil {
		fmt.Fprintf(out, "moved %d buckets from %s to %s\n", moved, *from, *to)
	}
	return exitCode(out, err)
}

func exitCode(out io.Writer, err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, stats.ErrLinkNotFound):
		fmt.Fprintf(out, "data integrity gap: %v\n", err)
		return exitIntegrity
	default:
		slog.Error("statsmigrate failed", "error", err)
		fmt.Fprintf(out, "error: %v\n", err)
		return exitFailure
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "usage: statsmigrate audit | rename -from <link id> -to <link id>")
}
