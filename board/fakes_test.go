package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"planit/domain"
	"planit/graph"
	"planit/notify"
	"planit/storage"
)

var errInjected = errors.New("injected failure")

type recordedUpdate struct {
	path   string
	fields map[string]any
}

// recordingStore wraps the in-memory store, records updates and deletes and
// can fail the next n updates.
type recordingStore struct {
	*storage.Memory

	mu          sync.Mutex
	updates     []recordedUpdate
	deletes     []string
	failUpdates int
	failCreates bool

	// manual makes Subscribe hand out unbuffered feeds the test drives.
	manual bool
	feeds  []chan storage.Snapshot
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: storage.NewMemory()}
}

func (s *recordingStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	fail := s.failCreates
	s.mu.Unlock()
	if fail {
		return "", errInjected
	}
	return s.Memory.Create(ctx, collection, fields)
}

func (s *recordingStore) Update(ctx context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	s.updates = append(s.updates, recordedUpdate{path: path, fields: fields})
	if s.failUpdates > 0 {
		s.failUpdates--
		s.mu.Unlock()
		return errInjected
	}
	s.mu.Unlock()
	return s.Memory.Update(ctx, path, fields)
}

func (s *recordingStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, path)
	s.mu.Unlock()
	return s.Memory.Delete(ctx, path)
}

func (s *recordingStore) Subscribe(ctx context.Context, collection string, filters ...storage.Filter) <-chan storage.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.manual {
		return s.Memory.Subscribe(ctx, collection, filters...)
	}
	ch := make(chan storage.Snapshot)
	s.feeds = append(s.feeds, ch)
	return ch
}

func (s *recordingStore) feed(i int) chan storage.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[i]
}

func (s *recordingStore) deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.deletes...)
}

func (s *recordingStore) recorded() []recordedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedUpdate{}, s.updates...)
}

func (s *recordingStore) reset() {
	s.mu.Lock()
	s.updates = nil
	s.deletes = nil
	s.mu.Unlock()
}

type staticIdentity struct {
	user domain.User
	ok   bool
}

func (i staticIdentity) CurrentUser() (domain.User, bool) {
	return i.user, i.ok
}

type recorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recorder) Emit(ctx context.Context, n notify.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification{}, r.notes...)
}

func (r *recorder) ofType(typ notify.Type) []notify.Notification {
	var out []notify.Notification
	for _, n := range r.all() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.notes = nil
	r.mu.Unlock()
}

var testDay = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	ctx      context.Context
	store    *recordingStore
	projects *Projects
	board    *Board
	notes    *recorder
	hook     *test.Hook
	user     domain.User
}

func newHarness(t *testing.T, withProject bool) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	store := newRecordingStore()
	user := domain.User{ID: "u1", Email: "u1@example.com"}
	identity := staticIdentity{user: user, ok: true}
	notes := &recorder{}
	projects := NewProjects(store, identity, notes, logger)
	projects.now = func() time.Time { return testDay }
	b := New(store, identity, projects, notes, Options{
		Retry:  RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond},
		Logger: logger,
		Now:    func() time.Time { return testDay },
	})
	b.Open(ctx)
	if withProject {
		if _, err := projects.Create(ctx, "Test"); err != nil {
			t.Fatalf("create project: %v", err)
		}
		notes.reset()
	}
	return &harness{ctx: ctx, store: store, projects: projects, board: b, notes: notes, hook: hook, user: user}
}

func (h *harness) todos(t *testing.T) string {
	t.Helper()
	p, ok := h.projects.Current()
	if !ok {
		t.Fatalf("no current project")
	}
	return domain.TodosPath(h.user.ID, p.ID)
}

func (h *harness) stored(t *testing.T, id string) domain.Task {
	t.Helper()
	docs, err := h.store.Query(h.ctx, h.todos(t))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, d := range docs {
		if d.ID == id {
			return domain.TaskFromDocument(d.ID, d.Fields)
		}
	}
	t.Fatalf("task %s not stored", id)
	return domain.Task{}
}

// create adds a task and waits until the board renders it.
func (h *harness) create(t *testing.T, title string, preferred *domain.Position) string {
	t.Helper()
	id, err := h.board.Create(h.ctx, domain.TaskDraft{Title: title, Position: preferred})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	h.waitForNode(t, id)
	return id
}

func (h *harness) waitForNode(t *testing.T, id string) graph.Node {
	t.Helper()
	var node graph.Node
	waitUntil(t, func() bool {
		n, ok := h.board.View().Find(id)
		node = n
		return ok
	})
	return node
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func released(id string, p domain.Position) graph.NodeChange {
	done := false
	return graph.NodeChange{Type: graph.ChangePosition, ID: id, Position: &p, Dragging: &done}
}

func dragging(id string, p domain.Position) graph.NodeChange {
	held := true
	return graph.NodeChange{Type: graph.ChangePosition, ID: id, Position: &p, Dragging: &held}
}
