package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/metrics"
	"github.com/HammerMeetNail/friendlane/internal/models"
)

type recordingNotifier struct {
	mu        sync.Mutex
	requested [][2]string
	accepted  [][2]string
}

func (n *recordingNotifier) RelationshipRequested(ctx context.Context, fromID, toID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested = append(n.requested, [2]string{fromID, toID})
}

func (n *recordingNotifier) RelationshipAccepted(ctx context.Context, accepterID, initiatorID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted = append(n.accepted, [2]string{accepterID, initiatorID})
}

type countingRecorder struct {
	metrics.Nop
	mu  sync.Mutex
	ops map[string]int
}

func (c *countingRecorder) RecordRelationshipOp(op, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == nil {
		c.ops = map[string]int{}
	}
	c.ops[op+"/"+outcome]++
}

func newTestRelationshipService(ledger *memLedger) (*RelationshipService, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	svc := NewRelationshipService(ledger)
	svc.SetLogger(logging.New().SetOutput(buf))
	return svc, buf
}

func assertPair(t *testing.T, ledger *memLedger, a, b string, status models.RelationshipStatus, initiatedBy string) {
	t.Helper()
	ab, okAB := ledger.edge(a, b)
	ba, okBA := ledger.edge(b, a)
	if !okAB || !okBA {
		t.Fatalf("expected both edges for %s/%s, got %v %v", a, b, okAB, okBA)
	}
	if ab.Status != status || ba.Status != status {
		t.Fatalf("expected status %s, got %s and %s", status, ab.Status, ba.Status)
	}
	if ab.InitiatedBy != initiatedBy || ba.InitiatedBy != initiatedBy {
		t.Fatalf("expected initiator %s, got %s and %s", initiatedBy, ab.InitiatedBy, ba.InitiatedBy)
	}
	if ab.FriendID != b || ba.FriendID != a {
		t.Fatalf("edges point at wrong users: %+v %+v", ab, ba)
	}
}

func TestRelationshipService_SendRequestWritesBothEdges(t *testing.T) {
	ledger := newMemLedger()
	notifier := &recordingNotifier{}
	svc, _ := newTestRelationshipService(ledger)
	svc.SetNotificationService(notifier)

	if err := svc.SendRequest(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertPair(t, ledger, "alice", "bob", models.RelationshipStatusPending, "alice")

	if len(notifier.requested) != 1 || notifier.requested[0] != [2]string{"alice", "bob"} {
		t.Fatalf("unexpected notifications: %v", notifier.requested)
	}
}

func TestRelationshipService_SendRequestRejectsSelfAndEmpty(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.SendRequest(context.Background(), "alice", "alice"); !errors.Is(err, ErrCannotBefriendSelf) {
		t.Fatalf("expected ErrCannotBefriendSelf, got %v", err)
	}
	if err := svc.SendRequest(context.Background(), "", "bob"); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if len(ledger.execs) != 0 {
		t.Fatalf("expected no writes, got %v", ledger.execs)
	}
}

func TestRelationshipService_SendRequestDuplicateLeavesPairUntouched(t *testing.T) {
	ledger := newMemLedger()
	ledger.seed("alice", "bob", models.RelationshipStatusAccepted, "bob")
	ledger.seed("bob", "alice", models.RelationshipStatusAccepted, "bob")
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.SendRequest(context.Background(), "alice", "bob"); !errors.Is(err, ErrRelationshipExists) {
		t.Fatalf("expected ErrRelationshipExists, got %v", err)
	}
	if err := svc.SendRequest(context.Background(), "bob", "alice"); !errors.Is(err, ErrRelationshipExists) {
		t.Fatalf("expected ErrRelationshipExists for reverse direction, got %v", err)
	}
	assertPair(t, ledger, "alice", "bob", models.RelationshipStatusAccepted, "bob")
}

func TestRelationshipService_SendRequestUnknownUser(t *testing.T) {
	ledger := newMemLedger("alice")
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.SendRequest(context.Background(), "alice", "ghost"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if ledger.len() != 0 {
		t.Fatalf("expected no edges, got %d", ledger.len())
	}
}

func TestRelationshipService_SendRequestStoreFailureWritesNothing(t *testing.T) {
	ledger := newMemLedger()
	ledger.execErr = func(sql string) error { return errors.New("connection reset") }
	notifier := &recordingNotifier{}
	svc, _ := newTestRelationshipService(ledger)
	svc.SetNotificationService(notifier)

	err := svc.SendRequest(context.Background(), "alice", "bob")
	if !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}
	if ledger.len() != 0 {
		t.Fatalf("expected no edges after failed write, got %d", ledger.len())
	}
	if len(notifier.requested) != 0 {
		t.Fatal("expected no notification for failed write")
	}
}

func TestRelationshipService_AcceptRequest(t *testing.T) {
	ledger := newMemLedger()
	notifier := &recordingNotifier{}
	svc, _ := newTestRelationshipService(ledger)
	svc.SetNotificationService(notifier)
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	assertPair(t, ledger, "alice", "bob", models.RelationshipStatusAccepted, "alice")

	if len(notifier.accepted) != 1 || notifier.accepted[0] != [2]string{"bob", "alice"} {
		t.Fatalf("unexpected accepted notifications: %v", notifier.accepted)
	}
}

func TestRelationshipService_AcceptRequestBySenderIsStale(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.AcceptRequest(ctx, "alice", "bob"); !errors.Is(err, ErrStaleRelationship) {
		t.Fatalf("expected ErrStaleRelationship, got %v", err)
	}
	assertPair(t, ledger, "alice", "bob", models.RelationshipStatusPending, "alice")
}

func TestRelationshipService_AcceptRequestStalePreconditions(t *testing.T) {
	tests := []struct {
		name string
		seed func(l *memLedger)
	}{
		{name: "no request", seed: func(l *memLedger) {}},
		{name: "already accepted", seed: func(l *memLedger) {
			l.seed("alice", "bob", models.RelationshipStatusAccepted, "alice")
			l.seed("bob", "alice", models.RelationshipStatusAccepted, "alice")
		}},
		{name: "half pair", seed: func(l *memLedger) {
			l.seed("bob", "alice", models.RelationshipStatusPending, "alice")
		}},
		{name: "initiator disagreement", seed: func(l *memLedger) {
			l.seed("alice", "bob", models.RelationshipStatusPending, "alice")
			l.seed("bob", "alice", models.RelationshipStatusPending, "bob")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMemLedger()
			tt.seed(ledger)
			before := ledger.len()
			svc, _ := newTestRelationshipService(ledger)

			if err := svc.AcceptRequest(context.Background(), "bob", "alice"); !errors.Is(err, ErrStaleRelationship) {
				t.Fatalf("expected ErrStaleRelationship, got %v", err)
			}
			if ledger.len() != before {
				t.Fatalf("expected ledger unchanged, had %d now %d", before, ledger.len())
			}
		})
	}
}

func TestRelationshipService_AcceptRequestCommitFailure(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	ctx := context.Background()
	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	ledger.commitErr = errors.New("commit lost")
	if err := svc.AcceptRequest(ctx, "bob", "alice"); !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}
	assertPair(t, ledger, "alice", "bob", models.RelationshipStatusPending, "alice")
}

func TestRelationshipService_ConcurrentAcceptSucceedsOnce(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	ctx := context.Background()
	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.AcceptRequest(ctx, "bob", "alice")
		}(i)
	}
	wg.Wait()

	ok, stale := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrStaleRelationship):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || stale != 1 {
		t.Fatalf("expected one success and one stale, got ok=%d stale=%d", ok, stale)
	}
}

func TestRelationshipService_ConcurrentSendRequestCreatesOnePair(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	pairs := [][2]string{{"alice", "bob"}, {"bob", "alice"}}
	for i := range pairs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.SendRequest(ctx, pairs[i][0], pairs[i][1])
		}(i)
	}
	wg.Wait()

	exists := 0
	for _, err := range errs {
		if errors.Is(err, ErrRelationshipExists) {
			exists++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if exists != 1 || ledger.len() != 2 {
		t.Fatalf("expected one pair and one rejection, got exists=%d edges=%d", exists, ledger.len())
	}
}

func TestRelationshipService_CancelRequest(t *testing.T) {
	for _, canceller := range []string{"alice", "bob"} {
		t.Run(canceller, func(t *testing.T) {
			ledger := newMemLedger()
			svc, _ := newTestRelationshipService(ledger)
			ctx := context.Background()
			if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
				t.Fatalf("send: %v", err)
			}
			other := map[string]string{"alice": "bob", "bob": "alice"}[canceller]

			if err := svc.CancelRequest(ctx, canceller, other); err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if ledger.len() != 0 {
				t.Fatalf("expected no edges, got %d", ledger.len())
			}
		})
	}
}

func TestRelationshipService_CancelRequestMissingPairIsNoop(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.CancelRequest(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	for _, sql := range ledger.execs {
		if strings.Contains(sql, "DELETE") {
			t.Fatalf("expected no delete for missing pair, got %q", sql)
		}
	}
}

func TestRelationshipService_CancelRequestAcceptedIsStale(t *testing.T) {
	ledger := newMemLedger()
	ledger.seed("alice", "bob", models.RelationshipStatusAccepted, "alice")
	ledger.seed("bob", "alice", models.RelationshipStatusAccepted, "alice")
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.CancelRequest(context.Background(), "alice", "bob"); !errors.Is(err, ErrStaleRelationship) {
		t.Fatalf("expected ErrStaleRelationship, got %v", err)
	}
	assertPair(t, ledger, "alice", "bob", models.RelationshipStatusAccepted, "alice")
}

func TestRelationshipService_UnfriendIsIdempotent(t *testing.T) {
	ledger := newMemLedger()
	ledger.seed("alice", "bob", models.RelationshipStatusAccepted, "alice")
	ledger.seed("bob", "alice", models.RelationshipStatusAccepted, "alice")
	svc, _ := newTestRelationshipService(ledger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.Unfriend(ctx, "bob", "alice"); err != nil {
			t.Fatalf("unfriend #%d: %v", i+1, err)
		}
		if ledger.len() != 0 {
			t.Fatalf("expected no edges after unfriend #%d, got %d", i+1, ledger.len())
		}
	}
}

func TestRelationshipService_UnfriendRepairsHalfPair(t *testing.T) {
	ledger := newMemLedger()
	ledger.seed("alice", "bob", models.RelationshipStatusAccepted, "alice")
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.Unfriend(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ledger.len() != 0 {
		t.Fatalf("expected dangling edge removed, got %d", ledger.len())
	}
}

func TestRelationshipService_BlockUnsupported(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.Block(context.Background(), "alice", "bob"); !errors.Is(err, ErrBlockUnsupported) {
		t.Fatalf("expected ErrBlockUnsupported, got %v", err)
	}
	if len(ledger.execs) != 0 {
		t.Fatalf("expected no writes, got %v", ledger.execs)
	}
}

func TestRelationshipService_AfterCommitFailureDoesNotFailWrite(t *testing.T) {
	ledger := newMemLedger()
	svc, buf := newTestRelationshipService(ledger)
	called := 0

	err := svc.SendRequest(context.Background(), "alice", "bob", WithAfterCommit(func(ctx context.Context) error {
		called++
		return errors.New("cache flush failed")
	}))
	if err != nil {
		t.Fatalf("expected success despite callback failure, got %v", err)
	}
	if called != 1 {
		t.Fatalf("expected callback once, got %d", called)
	}
	if !strings.Contains(buf.String(), "cache flush failed") {
		t.Fatalf("expected callback failure to be logged, got %q", buf.String())
	}
	assertPair(t, ledger, "alice", "bob", models.RelationshipStatusPending, "alice")
}

func TestRelationshipService_AfterCommitSkippedOnFailure(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	called := false

	err := svc.AcceptRequest(context.Background(), "bob", "alice", WithAfterCommit(func(ctx context.Context) error {
		called = true
		return nil
	}))
	if !errors.Is(err, ErrStaleRelationship) {
		t.Fatalf("expected ErrStaleRelationship, got %v", err)
	}
	if called {
		t.Fatal("expected callback not to run for failed mutation")
	}
}

func TestRelationshipService_BeginFailure(t *testing.T) {
	ledger := newMemLedger()
	ledger.beginErr = errors.New("pool exhausted")
	svc, _ := newTestRelationshipService(ledger)

	if err := svc.CancelRequest(context.Background(), "alice", "bob"); !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}
}

func TestRelationshipService_ListAndExclusionSet(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.SendRequest(ctx, "carol", "alice"); err != nil {
		t.Fatalf("send: %v", err)
	}

	edges, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(edges) != 2 || edges[0].FriendID != "carol" || edges[1].FriendID != "bob" {
		t.Fatalf("expected newest first, got %+v", edges)
	}
	if !edges[0].IncomingFor("alice") || edges[1].IncomingFor("alice") {
		t.Fatalf("unexpected direction flags: %+v", edges)
	}

	set, err := svc.ExclusionSet(ctx, "alice")
	if err != nil {
		t.Fatalf("exclusion set: %v", err)
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		if !set.Contains(id) {
			t.Fatalf("expected %s excluded", id)
		}
	}
	if set.Len() != 3 {
		t.Fatalf("expected 3 exclusions, got %d", set.Len())
	}
}

func TestRelationshipService_Get(t *testing.T) {
	ledger := newMemLedger()
	ledger.seed("alice", "bob", models.RelationshipStatusPending, "bob")
	svc, _ := newTestRelationshipService(ledger)

	edge, err := svc.Get(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edge.Status != models.RelationshipStatusPending || edge.InitiatedBy != "bob" {
		t.Fatalf("unexpected edge %+v", edge)
	}
	if _, err := svc.Get(context.Background(), "alice", "carol"); !errors.Is(err, ErrRelationshipNotFound) {
		t.Fatalf("expected ErrRelationshipNotFound, got %v", err)
	}
}

func TestRelationshipService_ApplyDispatchesByTag(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	ctx := context.Background()

	steps := []struct {
		me, them, tag string
		wantErr       error
		wantEdges     int
	}{
		{"alice", "bob", "send", nil, 2},
		{"bob", "alice", "ACCEPT", nil, 2},
		{"alice", "bob", "cancel", ErrStaleRelationship, 2},
		{"alice", "bob", "block", ErrBlockUnsupported, 2},
		{"alice", "bob", " unfriend ", nil, 0},
	}
	for _, step := range steps {
		action, err := ParseRelationshipAction(step.tag)
		if err != nil {
			t.Fatalf("parse %q: %v", step.tag, err)
		}
		err = svc.Apply(ctx, step.me, step.them, action)
		if !errors.Is(err, step.wantErr) {
			t.Fatalf("%s: expected %v, got %v", step.tag, step.wantErr, err)
		}
		if ledger.len() != step.wantEdges {
			t.Fatalf("%s: expected %d edges, got %d", step.tag, step.wantEdges, ledger.len())
		}
	}

	if _, err := ParseRelationshipAction("poke"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestRelationshipService_RecordsOutcomes(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestRelationshipService(ledger)
	rec := &countingRecorder{}
	svc.SetMetrics(rec)
	ctx := context.Background()

	_ = svc.SendRequest(ctx, "alice", "bob")
	_ = svc.SendRequest(ctx, "alice", "bob")
	_ = svc.AcceptRequest(ctx, "alice", "bob")

	for key, want := range map[string]int{
		"send_request/ok":      1,
		"send_request/exists":  1,
		"accept_request/stale": 1,
	} {
		if rec.ops[key] != want {
			t.Fatalf("expected %s=%d, got %v", key, want, rec.ops)
		}
	}
}
