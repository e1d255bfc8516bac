package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"schemasync/internal/dialect"
)

// ErrLockHeld means another holder owns the target lease and it has not
// expired yet.
var ErrLockHeld = errors.New("sync lock held by another process")

// AcquireLock takes the single-writer lease for target. A lease row carries
// the holder id and acquisition time; rows older than ttl are reclaimed, so a
// crashed holder cannot wedge the target forever. On postgres and mysql a
// session-level advisory lock is taken on a pinned connection as well, which
// fences concurrent writers faster than the lease row alone.
func (s *Store) AcquireLock(ctx context.Context, target string, holder uuid.UUID, ttl time.Duration) error {
	if err := s.acquireNative(ctx, target); err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-ttl).Format(timeLayout)
	del := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE target = ? AND acquired_at < ?`,
		dialect.Quote(s.d, s.lockTable())))
	if _, err := s.db.ExecContext(ctx, del, target, cutoff); err != nil {
		s.releaseNative(ctx, target)
		return fmt.Errorf("reclaim expired lock: %w", err)
	}
	ins := s.rebind(fmt.Sprintf(`INSERT INTO %s (target, holder, acquired_at) VALUES (?, ?, ?)`,
		dialect.Quote(s.d, s.lockTable())))
	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx, ins, target, holder.String(), now); err != nil {
		s.releaseNative(ctx, target)
		return fmt.Errorf("%w: %v", ErrLockHeld, err)
	}
	return nil
}

// ReleaseLock drops the lease if this holder still owns it.
func (s *Store) ReleaseLock(ctx context.Context, target string, holder uuid.UUID) error {
	del := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE target = ? AND holder = ?`,
		dialect.Quote(s.d, s.lockTable())))
	_, err := s.db.ExecContext(ctx, del, target, holder.String())
	s.releaseNative(ctx, target)
	return err
}

func (s *Store) lockTable() string {
	return s.table + "_lock"
}

func (s *Store) acquireNative(ctx context.Context, target string) error {
	switch s.d {
	case dialect.Postgres:
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return err
		}
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey(target)).Scan(&ok); err != nil {
			conn.Close()
			return err
		}
		if !ok {
			conn.Close()
			return ErrLockHeld
		}
		s.lockConn = conn
	case dialect.MySQL:
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return err
		}
		var got sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", lockName(target)).Scan(&got); err != nil {
			conn.Close()
			return err
		}
		if !got.Valid || got.Int64 != 1 {
			conn.Close()
			return ErrLockHeld
		}
		s.lockConn = conn
	}
	return nil
}

func (s *Store) releaseNative(ctx context.Context, target string) {
	if s.lockConn == nil {
		return
	}
	switch s.d {
	case dialect.Postgres:
		s.lockConn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey(target))
	case dialect.MySQL:
		s.lockConn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", lockName(target))
	}
	s.lockConn.Close()
	s.lockConn = nil
}

// lockKey maps a target name onto the int64 keyspace of pg advisory locks.
func lockKey(target string) int64 {
	h := fnv.New64a()
	h.Write([]byte("schemasync:" + target))
	return int64(h.Sum64())
}

func lockName(target string) string {
	return "schemasync:" + target
}
