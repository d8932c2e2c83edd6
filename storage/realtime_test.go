package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"planit/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = rc.Close()
		m.Close()
	})
	return m, rc
}

// waitFor reads snapshots until one satisfies ok.
func waitFor(t *testing.T, ch <-chan Snapshot, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, open := <-ch:
			if !open {
				t.Fatalf("subscription closed")
			}
			if snap.Err == nil && ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}

func waitForDocs(t *testing.T, ch <-chan Snapshot, n int) Snapshot {
	t.Helper()
	return waitFor(t, ch, func(snap Snapshot) bool { return len(snap.Docs) == n })
}

func TestRealtimePublishesAndRequeries(t *testing.T) {
	_, rc := newTestRedis(t)
	logger, _ := test.NewNullLogger()
	base := NewMemory()
	rt := NewRealtime(base, base, rc, logger)
	col := domain.TodosPath("u1", "p1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := rt.Subscribe(ctx, col, Filter{Field: domain.FieldDateKey, Value: "d1"})
	waitForDocs(t, ch, 0)

	id, err := rt.Create(ctx, col, map[string]any{domain.FieldDateKey: "d1", domain.FieldTitle: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := waitForDocs(t, ch, 1)
	if snap.Docs[0].ID != id {
		t.Fatalf("unexpected doc %+v", snap.Docs[0])
	}

	if err := rt.Update(ctx, domain.DocPath(col, id), map[string]any{domain.FieldTitle: "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitFor(t, ch, func(snap Snapshot) bool {
		return len(snap.Docs) == 1 && snap.Docs[0].Fields[domain.FieldTitle] == "b"
	})
	if err := rt.Delete(ctx, domain.DocPath(col, id)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitForDocs(t, ch, 0)
}

func TestRealtimeIgnoresOtherCollections(t *testing.T) {
	_, rc := newTestRedis(t)
	logger, _ := test.NewNullLogger()
	base := NewMemory()
	rt := NewRealtime(base, base, rc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := rt.Subscribe(ctx, domain.TodosPath("u1", "p1"))
	waitForDocs(t, ch, 0)

	if _, err := rt.Create(ctx, domain.TodosPath("u1", "p2"), map[string]any{"title": "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRealtimeClosesOnCancel(t *testing.T) {
	_, rc := newTestRedis(t)
	logger, _ := test.NewNullLogger()
	base := NewMemory()
	rt := NewRealtime(base, base, rc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	ch := rt.Subscribe(ctx, domain.ProjectsPath("u1"))
	waitForDocs(t, ch, 0)
	cancel()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription not closed")
		}
	}
}
