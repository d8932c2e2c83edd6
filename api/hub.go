package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"planit/auth"
	"planit/board"
	"planit/domain"
	"planit/notify"
	"planit/storage"
)

// QueueSink forwards a user's notifications out of process.
type QueueSink interface {
	ForUser(userID string) notify.Emitter
}

// HubOptions configure the workspaces created by a Hub.
type HubOptions struct {
	Board    board.Options
	ToastTTL time.Duration
	Archive  notify.Archive
	Queue    QueueSink
	Logger   *log.Logger
	// IdleTimeout closes workspaces with no open stream that have not been
	// used for this long. Zero keeps them until Close.
	IdleTimeout time.Duration
}

// Workspace is the board, project list and notification center of one user.
type Workspace struct {
	Board    *board.Board
	Projects *board.Projects
	Center   *notify.Center

	cancel   context.CancelFunc
	lastSeen time.Time
	streams  int
}

func (ws *Workspace) close() {
	ws.Board.Close()
	ws.cancel()
	ws.Board.Flush()
}

// Hub creates workspaces lazily, one per user, and keeps them alive while
// they are streamed to or recently used.
type Hub struct {
	ctx   context.Context
	store storage.Store
	opts  HubOptions
	now   func() time.Time

	mu     sync.Mutex
	spaces map[string]*Workspace
}

func NewHub(ctx context.Context, store storage.Store, opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Board.Logger == nil {
		opts.Board.Logger = opts.Logger
	}
	h := &Hub{ctx: ctx, store: store, opts: opts, now: time.Now, spaces: make(map[string]*Workspace)}
	if opts.IdleTimeout > 0 {
		go h.reap(ctx, opts.IdleTimeout/2)
	}
	return h
}

// Workspace returns the workspace of user, opening it on first use.
func (h *Hub) Workspace(user domain.User) *Workspace {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openLocked(user)
}

// Hold returns the workspace of user and keeps it from being evicted until
// release is called.
func (h *Hub) Hold(user domain.User) (*Workspace, func()) {
	h.mu.Lock()
	ws := h.openLocked(user)
	ws.streams++
	h.mu.Unlock()

	var once sync.Once
	return ws, func() {
		once.Do(func() {
			h.mu.Lock()
			ws.streams--
			ws.lastSeen = h.now()
			h.mu.Unlock()
		})
	}
}

func (h *Hub) openLocked(user domain.User) *Workspace {
	if ws, ok := h.spaces[user.ID]; ok {
		ws.lastSeen = h.now()
		return ws
	}

	ctx, cancel := context.WithCancel(h.ctx)
	identity := auth.NewSession(user)
	center := notify.NewCenter(h.opts.ToastTTL, h.opts.Logger)
	if h.opts.Archive != nil {
		center.WithArchive(ctx, user.ID, h.opts.Archive)
	}
	var emitter notify.Emitter = center
	if h.opts.Queue != nil {
		emitter = notify.Multi{center, h.opts.Queue.ForUser(user.ID)}
	}

	projects := board.NewProjects(h.store, identity, emitter, h.opts.Logger)
	b := board.New(h.store, identity, projects, emitter, h.opts.Board)
	b.Open(ctx)
	projects.Watch(ctx)
	go center.Run(ctx, time.Second)

	ws := &Workspace{Board: b, Projects: projects, Center: center, cancel: cancel, lastSeen: h.now()}
	h.spaces[user.ID] = ws
	h.opts.Logger.WithField("user", user.ID).Debug("workspace opened")
	return ws
}

// Close stops every workspace and waits for pending position writes.
func (h *Hub) Close() {
	h.mu.Lock()
	spaces := h.spaces
	h.spaces = make(map[string]*Workspace)
	h.mu.Unlock()
	for _, ws := range spaces {
		ws.close()
	}
}

// EvictIdle closes workspaces without open streams that were last used more
// than IdleTimeout before now, and reports how many it closed.
func (h *Hub) EvictIdle(now time.Time) int {
	if h.opts.IdleTimeout <= 0 {
		return 0
	}
	h.mu.Lock()
	var idle []*Workspace
	for id, ws := range h.spaces {
		if ws.streams > 0 || now.Sub(ws.lastSeen) < h.opts.IdleTimeout {
			continue
		}
		idle = append(idle, ws)
		delete(h.spaces, id)
		h.opts.Logger.WithField("user", id).Debug("workspace evicted")
	}
	h.mu.Unlock()
	for _, ws := range idle {
		ws.close()
	}
	return len(idle)
}

func (h *Hub) reap(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.EvictIdle(h.now())
		}
	}
}
