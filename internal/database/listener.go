package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HammerMeetNail/friendlane/internal/logging"
)

// ProfileChangesChannel is the NOTIFY channel written by the users trigger.
// Each payload is the id of the inserted, updated or deleted profile.
const ProfileChangesChannel = "profile_changes"

const listenRetryDelay = 2 * time.Second

// notificationSource is the part of a dedicated connection the listener needs.
type notificationSource interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type pooledListenConn struct {
	conn *pgxpool.Conn
}

func (c pooledListenConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c pooledListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.conn.Conn().WaitForNotification(ctx)
}

func (c pooledListenConn) Release() {
	c.conn.Release()
}

// ProfileChangeListener streams profile ids from Postgres LISTEN/NOTIFY.
type ProfileChangeListener struct {
	acquire func(ctx context.Context) (notificationSource, error)
	logger  *logging.Logger
	retry   time.Duration
}

func NewProfileChangeListener(db *PostgresDB, logger *logging.Logger) *ProfileChangeListener {
	return &ProfileChangeListener{
		acquire: func(ctx context.Context) (notificationSource, error) {
			conn, err := db.Pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return pooledListenConn{conn: conn}, nil
		},
		logger: logger,
		retry:  listenRetryDelay,
	}
}

// Listen subscribes and returns a channel of changed profile ids. The channel
// is closed once ctx is done. Connection failures after the first subscription
// are retried; notifications sent while disconnected are lost.
func (l *ProfileChangeListener) Listen(ctx context.Context) (<-chan string, error) {
	src, err := l.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		for {
			n, err := src.WaitForNotification(ctx)
			if err != nil {
				src.Release()
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("Profile change listener lost connection", map[string]interface{}{"error": err.Error()})
				src = l.resubscribe(ctx)
				if src == nil {
					return
				}
				continue
			}

			select {
			case out <- n.Payload:
			case <-ctx.Done():
				src.Release()
				return
			}
		}
	}()
	return out, nil
}

func (l *ProfileChangeListener) subscribe(ctx context.Context) (notificationSource, error) {
	src, err := l.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := src.Exec(ctx, "LISTEN "+pgx.Identifier{ProfileChangesChannel}.Sanitize()); err != nil {
		src.Release()
		return nil, fmt.Errorf("listening on %s: %w", ProfileChangesChannel, err)
	}
	return src, nil
}

func (l *ProfileChangeListener) resubscribe(ctx context.Context) notificationSource {
	timer := time.NewTimer(l.retry)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		src, err := l.subscribe(ctx)
		if err == nil {
			l.logger.Info("Profile change listener reconnected")
			return src
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("Profile change listener reconnect failed", map[string]interface{}{"error": err.Error()})
		timer.Reset(l.retry)
	}
}
