// Command dbrestore lists and restores encrypted database backups.
//
//	dbrestore list
//	dbrestore restore -key smartsavvy/backup-20260310T040000Z.db.enc -out restored.db
//	dbrestore restore -latest -out restored.db
//
// The restored file is written to -out only; stop the service and swap it
// in by hand.
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

	"github.com/dukerupert/smartsavvy/internal/backup"
	"github.com/dukerupert/smartsavvy/internal/config"
	"github.com/dukerupert/smartsavvy/internal/logging"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type backups interface {
	List(ctx context.Context) ([]string, error)
	Restore(ctx context.Context, key, dstPath string) error
}

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
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat).With("component", "dbrestore")

	if !cfg.Backup.Enabled() {
		fmt.Fprintln(out, "backups are not configured: set BACKUP_S3_* and BACKUP_PASSPHRASE")
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Restore only reads from S3, so no database handle is needed.
	m := backup.NewManager(cfg.Backup, nil, logger)
	return dispatch(ctx, m, args, out)
}

func dispatch(ctx context.Context, b backups, args []string, out io.Writer) int {
	switch args[0] {
	case "list":
		return list(ctx, b, out)
	case "restore":
		return restore(ctx, b, args[1:], out)
	default:
		usage(out)
		return exitUsage
	}
}

func list(ctx context.Context, b backups, out io.Writer) int {
	keys, err := b.List(ctx)
	if err != nil {
		return fail(out, err)
	}
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
	return exitOK
}

func restore(ctx context.Context, b backups, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(out)
	key := fs.String("key", "", "object key of the backup to restore")
	latest := fs.Bool("latest", false, "restore the newest backup")
	dst := fs.String("out", "", "path the restored database is written to")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *dst == "" || (*key == "") == !*latest {
		fs.Usage()
		return exitUsage
	}
	if _, err := os.Stat(*dst); err == nil {
		fmt.Fprintf(out, "refusing to overwrite %s\n", *dst)
		return exitFailure
	}

	if *latest {
		keys, err := b.List(ctx)
		if err != nil {
			return fail(out, err)
		}
		if len(keys) == 0 {
			return fail(out, errors.New("no backups found"))
		}
		*key = keys[0]
	}

	if err := b.Restore(ctx, *key, *dst); err != nil {
		return fail(out, err)
	}
	fmt.Fprintf(out, "restored %s to %s\n", *key, *dst)
	return exitOK
}

func fail(out io.Writer, err error) int {
	slog.Error("dbrestore failed", "error", err)
	fmt.Fprintf(out, "error: %v\n", err)
	return exitFailure
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "usage: dbrestore list | restore (-key <object key> | -latest) -out <path>")
}
