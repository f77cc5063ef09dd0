package wal

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/quantarc/matchbook/internal/book"
)

// SaveSnapshot writes the book's full state to path atomically: the dump
// goes to a temp file first and is renamed into place, so a crash mid-write
// leaves the previous snapshot intact.
func SaveSnapshot(path string, bk *book.Book, log *zap.Logger) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := bk.SaveState(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish snapshot: %w", err)
	}
	log.Info("snapshot written", zap.String("path", path), zap.String("state_hash", bk.ComputeStateHash()))
	return nil
}

// LoadSnapshot restores a snapshot into bk, which must be configured
// identically to the book that produced it.
func LoadSnapshot(path string, bk *book.Book, log *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	if err := bk.LoadState(f); err != nil {
		return fmt.Errorf("load snapshot %s: %w", path, err)
	}
	log.Info("snapshot loaded", zap.String("path", path), zap.String("state_hash", bk.ComputeStateHash()))
	return nil
}

// Recover rebuilds book state from the latest snapshot (optional) followed
// by the WAL. Returns the number of commands replayed.
func Recover(snapshotPath, walPath string, bk *book.Book, log *zap.Logger) (int, error) {
	if snapshotPath != "" {
		if _, err := os.Stat(snapshotPath); err == nil {
			if err := LoadSnapshot(snapshotPath, bk, log); err != nil {
				return 0, err
			}
		} else if !os.IsNotExist(err) {
			return 0, fmt.Errorf("stat snapshot: %w", err)
		}
	}
	if walPath == "" {
		return 0, nil
	}
	if _, err := os.Stat(walPath); os.IsNotExist(err) {
		return 0, nil
	}
	return Replay(walPath, bk, log)
}
