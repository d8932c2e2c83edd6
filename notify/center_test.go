package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestCenter(t *testing.T) (*Center, *time.Time) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c := NewCenter(0, logger)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	seq := 0
	c.newID = func() string {
		seq++
		return fmt.Sprintf("n%d", seq)
	}
	return c, &clock
}

func TestCenterEmitDefaultsAndOrder(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCenter(t)
	c.Emit(ctx, Notification{Title: "Task Created", Type: Success})
	c.Emit(ctx, Notification{Title: "Project Created", Type: Success, Visibility: Both})

	list := c.Snapshot()
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
	if list[0].ID != "n2" || list[1].ID != "n1" {
		t.Fatalf("expected newest first, got %s, %s", list[0].ID, list[1].ID)
	}
	if list[1].Visibility != Toast || list[1].Read || list[1].CreatedAt.IsZero() {
		t.Fatalf("unexpected defaults %+v", list[1])
	}
}

func TestCenterUnreadCountAndRead(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCenter(t)
	c.Emit(ctx, Notification{Title: "toast"})
	c.Emit(ctx, Notification{Title: "panel", Visibility: Panel})
	c.Emit(ctx, Notification{Title: "both", Visibility: Both})

	if got := c.UnreadCount(); got != 2 {
		t.Fatalf("toasts must not count as unread, got %d", got)
	}
	c.MarkAsRead(ctx, "n2")
	if got := c.UnreadCount(); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}
	c.MarkAllAsRead(ctx)
	if got := c.UnreadCount(); got != 0 {
		t.Fatalf("expected 0 unread, got %d", got)
	}
	for _, n := range c.Snapshot() {
		if !n.Read {
			t.Fatalf("notification %s not read", n.ID)
		}
	}
}

func TestCenterRemoveAndRemoveToastOnly(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCenter(t)
	c.Emit(ctx, Notification{Title: "a", Visibility: Both})
	c.Emit(ctx, Notification{Title: "b", Visibility: Toast})

	c.RemoveToastOnly(ctx, "n1")
	c.RemoveToastOnly(ctx, "n2")
	list := c.Snapshot()
	if list[1].Visibility != Panel {
		t.Fatalf("expected both -> panel, got %s", list[1].Visibility)
	}
	if list[0].Visibility != Toast {
		t.Fatalf("toast-only notification must be untouched, got %s", list[0].Visibility)
	}

	c.Remove(ctx, "n2")
	c.Remove(ctx, "missing")
	if list := c.Snapshot(); len(list) != 1 || list[0].ID != "n1" {
		t.Fatalf("unexpected list after remove %+v", list)
	}
}

func TestCenterExpire(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCenter(t)
	c.Emit(ctx, Notification{Title: "toast"})
	c.Emit(ctx, Notification{Title: "both", Visibility: Both})
	c.Emit(ctx, Notification{Title: "panel", Visibility: Panel})

	c.Expire(ctx, clock.Add(4*time.Second))
	if len(c.Snapshot()) != 3 {
		t.Fatalf("nothing should expire before the ttl")
	}

	c.Expire(ctx, clock.Add(DefaultToastTTL))
	list := c.Snapshot()
	if len(list) != 2 {
		t.Fatalf("expected toast removed, got %+v", list)
	}
	for _, n := range list {
		if n.Visibility != Panel {
			t.Fatalf("expected panel visibility, got %+v", n)
		}
	}
}

func TestCenterArchiveRoundTrip(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	ctx := context.Background()
	archive := NewRedisArchive(rc, time.Hour)

	c, _ := newTestCenter(t)
	c.WithArchive(ctx, "u1", archive)
	c.Emit(ctx, Notification{Title: "Task Deleted", Type: Success, Visibility: Both})

	restored := NewCenter(0, nil).WithArchive(ctx, "u1", archive)
	list := restored.Snapshot()
	if len(list) != 1 || list[0].Title != "Task Deleted" || list[0].Visibility != Both {
		t.Fatalf("unexpected restored list %+v", list)
	}
	if ttl := m.TTL(archiveKey("u1")); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	c.Remove(ctx, list[0].ID)
	if m.Exists(archiveKey("u1")) {
		t.Fatalf("expected key removed once the panel is empty")
	}

	_ = m.Set(archiveKey("u2"), "garbage")
	if list, err := archive.Load(ctx, "u2"); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list for corrupt entry, got %v %v", list, err)
	}
}

type fakeEnqueuer struct {
	messages []string
	err      error
}

func (f *fakeEnqueuer) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestQueueEmitterEnqueuesEnvelope(t *testing.T) {
	logger, hook := test.NewNullLogger()
	fq := &fakeEnqueuer{}
	q := newQueue(fq, logger)

	q.ForUser("u1").Emit(context.Background(), Notification{Title: "Dependency Added", Type: Success})
	if len(fq.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(fq.messages))
	}
	var env Envelope
	if err := sonic.UnmarshalString(fq.messages[0], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.UserID != "u1" || env.Notification.Title != "Dependency Added" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	fq.err = errors.New("boom")
	q.ForUser("u1").Emit(context.Background(), Notification{Title: "x"})
	if entry := hook.LastEntry(); entry == nil || entry.Message != "failed to enqueue notification" {
		t.Fatalf("expected enqueue failure to be logged")
	}
}

type recordingEmitter struct {
	got []Notification
}

func (r *recordingEmitter) Emit(ctx context.Context, n Notification) {
	r.got = append(r.got, n)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{}
	Multi{a, nil, b, Discard{}}.Emit(context.Background(), Notification{Title: "x"})
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected both emitters called")
	}
}
