// Package backup takes encrypted snapshots of the SQLite database and ships
// them to S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"
)

const keyTimeLayout = "20060102T150405Z"

var ErrDisabled = errors.New("backup not configured")

// objectStore is the subset of *s3.Client the manager uses.
type objectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3         S3Config
	Passphrase string
	Interval   time.Duration
	Retention  time.Duration
	// Prefix is prepended to every object key, e.g. "smartsavvy/".
	Prefix string
}

// Enabled reports whether enough is configured to take backups.
func (c Config) Enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

// Status is the outcome of the most recent run.
type Status struct {
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manager takes scheduled backups. Runs are serialised.
type Manager struct {
	cfg    Config
	db     *sql.DB
	client objectStore
	logger *slog.Logger
	now    func() time.Time

	runMu  sync.Mutex
	mu     sync.RWMutex
	status Status
}

// NewManager returns a manager; with an incomplete Config every run returns
// ErrDisabled.
func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	m := &Manager{cfg: cfg, db: db, logger: logger, now: time.Now}
	if cfg.Enabled() {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Run takes a backup every cfg.Interval until ctx is done. It returns
// immediately when backups are disabled.
func (m *Manager) Run(ctx context.Context) {
	if m.client == nil || m.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				m.logger.Error("scheduled backup failed", "error", err)
			}
			if n, err := m.Prune(ctx); err != nil {
				m.logger.Error("backup prune failed", "error", err)
			} else if n > 0 {
				m.logger.Info("pruned old backups", "count", n)
			}
		}
	}
}

// Status returns the outcome of the last run.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// RunOnce snapshots the database with VACUUM INTO, encrypts the snapshot and
// uploads it. It returns the object key.
func (m *Manager) RunOnce(ctx context.Context) (string, error) {
	if m.client == nil {
		return "", ErrDisabled
	}
	m.runMu.Lock()
	defer m.runMu.Unlock()

	key, err := m.runBackup(ctx)
	if err != nil {
		m.setStatus(Status{Error: err.Error()})
		return "", err
	}
	at := m.now().UTC()
	m.setStatus(Status{LastBackup: &at, LastKey: key})
	m.logger.Info("backup uploaded", "key", key)
	return key, nil
}

func (m *Manager) runBackup(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "smartsavvy-backup-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	snapshot := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}
	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}

	sealed, err := Seal(plaintext, m.cfg.Passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	key := fmt.Sprintf("%sbackup-%s.db.enc", m.cfg.Prefix, m.now().UTC().Format(keyTimeLayout))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return key, nil
}

// List returns the keys of every backup under the prefix, newest first.
// Objects that do not look like backups are skipped.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}
	type entry struct {
		key string
		at  time.Time
	}
	var found []entry
	var token *string
	for {
		out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.cfg.S3.Bucket),
			Prefix:            aws.String(m.cfg.Prefix + "backup-"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if at, ok := m.keyTime(key); ok {
				found = append(found, entry{key: key, at: at})
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(found, func(i, j int) bool { return found[i].at.After(found[j].at) })
	keys := make([]string, len(found))
	for i, e := range found {
		keys[i] = e.key
	}
	return keys, nil
}

// Prune deletes backups whose key timestamp is older than cfg.Retention.
// Objects under the prefix that do not look like backups are left alone.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	if m.client == nil {
		return 0, ErrDisabled
	}
	if m.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := m.now().UTC().Add(-m.cfg.Retention)

	keys, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		if at, _ := m.keyTime(key); !at.Before(cutoff) {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete old backup", "key", key, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (m *Manager) keyTime(key string) (time.Time, bool) {
	ts, ok := strings.CutPrefix(key, m.cfg.Prefix+"backup-")
	if !ok {
		return time.Time{}, false
	}
	ts, ok = strings.CutSuffix(ts, ".db.enc")
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(keyTimeLayout, ts)
	return at, err == nil
}

// Restore downloads and decrypts the backup at key into dstPath and checks
// that the result is a sound SQLite database. It never touches the live
// database; swapping files is left to the operator.
func (m *Manager) Restore(ctx context.Context, key, dstPath string) error {
	if m.client == nil {
		return ErrDisabled
	}
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	plaintext, err := Open(buf.Bytes(), m.cfg.Passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, plaintext, 0600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}

	restored, err := sql.Open("sqlite", dstPath)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer restored.Close()

	var integrity string
	if err := restored.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}
