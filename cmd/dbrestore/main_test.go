package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeBackups struct {
	keys     []string
	listErr  error
	restored []string
	dst      string
}

func (f *fakeBackups) List(context.Context) ([]string, error) { return f.keys, f.listErr }

func (f *fakeBackups) Restore(_ context.Context, key, dst string) error {
	f.restored = append(f.restored, key)
	f.dst = dst
	return nil
}

func TestDispatchList(t *testing.T) {
	f := &fakeBackups{keys: []string{"backup-20260320T000000Z.db.enc", "backup-20260314T000000Z.db.enc"}}

	var out bytes.Buffer
	if code := dispatch(context.Background(), f, []string{"list"}, &out); code != exitOK {
		t.Fatalf("exit = %d, want %d", code, exitOK)
	}
	if out.String() != "backup-20260320T000000Z.db.enc\nbackup-20260314T000000Z.db.enc\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestDispatchRestoreKey(t *testing.T) {
	f := &fakeBackups{}
	dst := filepath.Join(t.TempDir(), "restored.db")

	var out bytes.Buffer
	code := dispatch(context.Background(), f, []string{"restore", "-key", "backup-20260314T000000Z.db.enc", "-out", dst}, &out)
	if code != exitOK {
		t.Fatalf("exit = %d, want %d (output %q)", code, exitOK, out.String())
	}
	if len(f.restored) != 1 || f.restored[0] != "backup-20260314T000000Z.db.enc" || f.dst != dst {
		t.Errorf("restored %v to %q", f.restored, f.dst)
	}
}

func TestDispatchRestoreLatest(t *testing.T) {
	f := &fakeBackups{keys: []string{"backup-20260320T000000Z.db.enc", "backup-20260314T000000Z.db.enc"}}
	dst := filepath.Join(t.TempDir(), "restored.db")

	var out bytes.Buffer
	if code := dispatch(context.Background(), f, []string{"restore", "-latest", "-out", dst}, &out); code != exitOK {
		t.Fatalf("exit = %d, want %d (output %q)", code, exitOK, out.String())
	}
	if len(f.restored) != 1 || f.restored[0] != "backup-20260320T000000Z.db.enc" {
		t.Errorf("restored %v, want newest", f.restored)
	}
}

func TestDispatchRestoreLatestEmpty(t *testing.T) {
	var out bytes.Buffer
	code := dispatch(context.Background(), &fakeBackups{}, []string{"restore", "-latest", "-out", filepath.Join(t.TempDir(), "x.db")}, &out)
	if code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(out.String(), "no backups found") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestDispatchRestoreRefusesOverwrite(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "live.db")
	if err := os.WriteFile(dst, []byte("live"), 0600); err != nil {
		t.Fatal(err)
	}
	f := &fakeBackups{}

	var out bytes.Buffer
	if code := dispatch(context.Background(), f, []string{"restore", "-key", "k", "-out", dst}, &out); code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
	if len(f.restored) != 0 {
		t.Error("restore should not run when the output exists")
	}
}

func TestDispatchListError(t *testing.T) {
	var out bytes.Buffer
	code := dispatch(context.Background(), &fakeBackups{listErr: errors.New("access denied")}, []string{"list"}, &out)
	if code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
}

func TestDispatchRestoreUsage(t *testing.T) {
	tests := [][]string{
		{"explode"},
		{"restore"},
		{"restore", "-key", "k"},
		{"restore", "-out", "x.db"},
		{"restore", "-key", "k", "-latest", "-out", "x.db"},
		{"restore", "-bogus"},
	}
	for _, args := range tests {
		var out bytes.Buffer
		if code := dispatch(context.Background(), &fakeBackups{}, args, &out); code != exitUsage {
			t.Errorf("%v: exit = %d, want %d", args, code, exitUsage)
		}
	}
}
