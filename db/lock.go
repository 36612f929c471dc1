package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"gorm.io/gorm"
)

// LockFileName is the advisory lock file kept in the file backend's data
// directory.
const LockFileName = ".lock"

// advisoryLockKey identifies the store among postgres advisory locks.
const advisoryLockKey int64 = 0x6d61726b6574

// ErrStoreLocked is returned by Open while another process holds the store.
var ErrStoreLocked = errors.New("store is in use by another process")

// lockedBackend holds an exclusive advisory lock for as long as the backend
// is open. Collection guards only serialize writers inside one process, so
// a second process rewriting whole collections would lose updates.
type lockedBackend struct {
	Backend
	release func() error
}

func (b *lockedBackend) Close() error {
	return errors.Join(b.release(), b.Backend.Close())
}

// lockFile takes an exclusive lock on path without waiting.
func lockFile(path string) (func() error, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", ErrStoreLocked, path)
	}
	return fl.Unlock, nil
}

// lockPostgres takes a session advisory lock on a connection reserved for
// it. The lock goes away with the connection.
func lockPostgres(ctx context.Context, gdb *gorm.DB) (func() error, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: postgres advisory lock %d is held", ErrStoreLocked, advisoryLockKey)
	}
	return func() error {
		_, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockKey)
		return errors.Join(err, conn.Close())
	}, nil
}
