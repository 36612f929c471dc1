package db

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver string
	// Dir is the data directory of the file backend.
	Dir string
	// Path is the sqlite database file.
	Path string
	// DSN is the postgres connection string.
	DSN string
}

// Open builds the backend named by opts.Driver and wraps it in a Store.
// File, sqlite and postgres stores are locked against other processes until
// the Store is closed; Open fails with ErrStoreLocked while another process
// holds them.
func Open(ctx context.Context, opts Options, log *zap.Logger) (*Store, error) {
	var (
		backend Backend
		release func() error
		err     error
	)
	switch opts.Driver {
	case DriverFile, "":
		fb, openErr := NewFileBackend(opts.Dir)
		if openErr != nil {
			return nil, openErr
		}
		backend = fb
		release, err = lockFile(filepath.Join(opts.Dir, LockFileName))
	case DriverSQLite:
		if release, err = lockFile(opts.Path + LockFileName); err != nil {
			break
		}
		sb, openErr := NewSQLiteBackend(ctx, opts.Path)
		if openErr != nil {
			err = openErr
			break
		}
		backend = sb
	case DriverPostgres:
		gdb, openErr := OpenPostgres(opts.DSN)
		if openErr != nil {
			return nil, openErr
		}
		backend = NewPostgresBackend(gdb)
		if release, err = lockPostgres(ctx, gdb); err == nil {
			err = Migrate(gdb)
		}
	case DriverMemory:
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		if release != nil {
			_ = release()
		}
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}
	if release != nil {
		backend = &lockedBackend{Backend: backend, release: release}
	}

	log.Info("record store opened", zap.String("driver", opts.Driver), zap.Bool("locked", release != nil))
	return NewStore(backend, log), nil
}
