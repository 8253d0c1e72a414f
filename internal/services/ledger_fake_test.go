package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HammerMeetNail/friendlane/internal/models"
)

type storedEdge struct {
	owner string
	edge  models.RelationshipEdge
}

type edgeMap map[string]storedEdge

func edgeKey(owner, friend string) string {
	return owner + "|" + friend
}

func (m edgeMap) clone() edgeMap {
	out := make(edgeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// memLedger is a user_friends table held in memory. Transactions take an
// exclusive lock for their lifetime, standing in for row locks on the pair.
type memLedger struct {
	mu    sync.Mutex
	edges edgeMap
	users map[string]bool
	clock time.Time

	execErr   func(sql string) error
	beginErr  error
	commitErr error
	execs     []string
}

func newMemLedger(users ...string) *memLedger {
	l := &memLedger{
		edges: edgeMap{},
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if len(users) > 0 {
		l.users = make(map[string]bool, len(users))
		for _, u := range users {
			l.users[u] = true
		}
	}
	return l
}

func (l *memLedger) seed(owner, friend string, status models.RelationshipStatus, initiatedBy string) {
	l.edges[edgeKey(owner, friend)] = storedEdge{owner: owner, edge: models.RelationshipEdge{
		FriendID: friend, Status: status, InitiatedBy: initiatedBy, Since: l.clock,
	}}
}

func (l *memLedger) edge(owner, friend string) (models.RelationshipEdge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.edges[edgeKey(owner, friend)]
	return e.edge, ok
}

func (l *memLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.edges)
}

func (l *memLedger) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exec(l.edges, sql, args...)
}

func (l *memLedger) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.query(l.edges, sql, args...)
}

func (l *memLedger) QueryRow(ctx context.Context, sql string, args ...any) Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queryRow(l.edges, sql, args...)
}

func (l *memLedger) Begin(ctx context.Context) (Tx, error) {
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	l.mu.Lock()
	return &memTx{ledger: l, edges: l.edges.clone()}, nil
}

func (l *memLedger) exec(edges edgeMap, sql string, args ...any) (CommandTag, error) {
	l.execs = append(l.execs, sql)
	if l.execErr != nil {
		if err := l.execErr(sql); err != nil {
			return fakeCommandTag{}, err
		}
	}

	switch {
	case strings.Contains(sql, "INSERT INTO user_friends"):
		me, them := args[0].(string), args[1].(string)
		status, initiatedBy := args[2].(string), args[3].(string)
		if _, ok := edges[edgeKey(me, them)]; ok {
			return fakeCommandTag{}, &pgconn.PgError{Code: pgUniqueViolation}
		}
		if _, ok := edges[edgeKey(them, me)]; ok {
			return fakeCommandTag{}, &pgconn.PgError{Code: pgUniqueViolation}
		}
		if l.users != nil && (!l.users[me] || !l.users[them]) {
			return fakeCommandTag{}, &pgconn.PgError{Code: pgForeignKeyViolation}
		}
		l.clock = l.clock.Add(time.Second)
		for _, p := range [][2]string{{me, them}, {them, me}} {
			edges[edgeKey(p[0], p[1])] = storedEdge{owner: p[0], edge: models.RelationshipEdge{
				FriendID:    p[1],
				Status:      models.RelationshipStatus(status),
				InitiatedBy: initiatedBy,
				Since:       l.clock,
			}}
		}
		return fakeCommandTag{rowsAffected: 2}, nil

	case strings.Contains(sql, "UPDATE user_friends SET status"):
		me, them, status := args[0].(string), args[1].(string), args[2].(string)
		var n int64
		for _, k := range []string{edgeKey(me, them), edgeKey(them, me)} {
			if e, ok := edges[k]; ok {
				e.edge.Status = models.RelationshipStatus(status)
				edges[k] = e
				n++
			}
		}
		return fakeCommandTag{rowsAffected: n}, nil

	case strings.Contains(sql, "DELETE FROM user_friends"):
		me, them := args[0].(string), args[1].(string)
		var n int64
		for _, k := range []string{edgeKey(me, them), edgeKey(them, me)} {
			if _, ok := edges[k]; ok {
				delete(edges, k)
				n++
			}
		}
		return fakeCommandTag{rowsAffected: n}, nil
	}
	return nil, fmt.Errorf("unexpected exec sql: %s", sql)
}

func (l *memLedger) queryRow(edges edgeMap, sql string, args ...any) Row {
	if !strings.Contains(sql, "FROM user_friends WHERE user_id = $1 AND friend_id = $2") {
		return fakeRow{scanFunc: func(dest ...any) error {
			return fmt.Errorf("unexpected query row sql: %s", sql)
		}}
	}
	e, ok := edges[edgeKey(args[0].(string), args[1].(string))]
	if !ok {
		return errRow(pgx.ErrNoRows)
	}
	return rowFromValues(e.edge.FriendID, string(e.edge.Status), e.edge.InitiatedBy, e.edge.Since)
}

func (l *memLedger) query(edges edgeMap, sql string, args ...any) (Rows, error) {
	if !strings.Contains(sql, "status IN ('pending', 'accepted')") {
		return nil, fmt.Errorf("unexpected query sql: %s", sql)
	}
	owner := args[0].(string)
	var list []models.RelationshipEdge
	for _, e := range edges {
		if e.owner == owner {
			list = append(list, e.edge)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Since.Equal(list[j].Since) {
			return list[i].Since.After(list[j].Since)
		}
		return list[i].FriendID < list[j].FriendID
	})
	rows := &fakeRows{}
	for _, e := range list {
		rows.rows = append(rows.rows, []any{e.FriendID, string(e.Status), e.InitiatedBy, e.Since})
	}
	return rows, nil
}

type memTx struct {
	ledger *memLedger
	edges  edgeMap
	done   bool
}

func (t *memTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return t.ledger.exec(t.edges, sql, args...)
}

func (t *memTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.ledger.query(t.edges, sql, args...)
}

func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.ledger.queryRow(t.edges, sql, args...)
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("tx already closed")
	}
	t.done = true
	defer t.ledger.mu.Unlock()
	if t.ledger.commitErr != nil {
		return t.ledger.commitErr
	}
	t.ledger.edges = t.edges
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.ledger.mu.Unlock()
	return nil
}
