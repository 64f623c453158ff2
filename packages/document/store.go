package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/viant/afs"
)

var ErrNotFound = errors.New("workbook not found")

// Store reads and writes workbooks through afs, so locations may be local
// paths or any URL scheme afs understands
type Store struct {
	fs          afs.Service
	logger      *slog.Logger
	lockTimeout time.Duration
}

type StoreOption func(*Store)

func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(st *Store) {
		st.logger = logger
	}
}

// WithLockTimeout bounds how long Save waits for another writer
func WithLockTimeout(d time.Duration) StoreOption {
	return func(st *Store) {
		st.lockTimeout = d
	}
}

func NewStore(opts ...StoreOption) *Store {
	st := &Store{
		fs:          afs.New(),
		logger:      slog.Default(),
		lockTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// localPath reports the filesystem path of a location without a scheme or
// with file://
func localPath(location string) (string, bool) {
	if after, ok := strings.CutPrefix(location, "file://"); ok {
		return after, true
	}
	if strings.Contains(location, "://") {
		return "", false
	}
	return location, true
}

// lock takes an exclusive lock next to a local workbook
func (st *Store) lock(ctx context.Context, path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, st.lockTimeout)
	defer cancel()

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring lock: timeout")
	}
	return lock, nil
}

// Save encodes a workbook in the format of the location's extension
func (st *Store) Save(ctx context.Context, location string, wb *Workbook) error {
	format, err := FormatOf(location)
	if err != nil {
		return err
	}
	data, err := Encode(wb, format)
	if err != nil {
		return err
	}

	if path, ok := localPath(location); ok {
		lock, err := st.lock(ctx, path)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Unlock() }()
	}

	if err := st.fs.Upload(ctx, location, 0o644, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", location, err)
	}
	st.logger.Debug("workbook saved", "location", location, "format", format, "bytes", len(data), "id", wb.ID)
	return nil
}

// Load reads and decodes the workbook at location
func (st *Store) Load(ctx context.Context, location string) (*Workbook, error) {
	format, err := FormatOf(location)
	if err != nil {
		return nil, err
	}
	exists, err := st.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", location, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}

	data, err := st.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	wb, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	st.logger.Debug("workbook loaded", "location", location, "format", format, "sheets", len(wb.Sheets), "id", wb.ID)
	return wb, nil
}
