package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultToastTTL is how long a toast stays on screen.
const DefaultToastTTL = 5 * time.Second

// Archive persists a user's notification panel between sessions.
type Archive interface {
	Save(ctx context.Context, userID string, list []Notification) error
	Load(ctx context.Context, userID string) ([]Notification, error)
}

// Center keeps the notifications of one user, newest first.
type Center struct {
	mu      sync.Mutex
	list    []Notification
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	userID  string
	archive Archive
	logger  *log.Logger
}

// NewCenter returns an empty center. ttl <= 0 uses DefaultToastTTL.
func NewCenter(ttl time.Duration, logger *log.Logger) *Center {
	if ttl <= 0 {
		ttl = DefaultToastTTL
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Center{ttl: ttl, now: time.Now, newID: uuid.NewString, logger: logger}
}

// WithArchive restores the panel of userID from a and saves every change back.
func (c *Center) WithArchive(ctx context.Context, userID string, a Archive) *Center {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.archive = a
	list, err := a.Load(ctx, userID)
	if err != nil {
		c.logger.WithError(err).WithField("user", userID).Warn("failed to load notifications")
		return c
	}
	c.list = list
	return c
}

// Emit stores n with a fresh id and timestamp. Visibility defaults to toast.
func (c *Center) Emit(ctx context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n.ID = c.newID()
	n.CreatedAt = c.now()
	n.Read = false
	if n.Visibility == "" {
		n.Visibility = Toast
	}
	c.list = append([]Notification{n}, c.list...)
	c.saveLocked(ctx)
}

// UnreadCount counts unread notifications shown in the panel.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.list {
		if (n.Visibility == Panel || n.Visibility == Both) && !n.Read {
			count++
		}
	}
	return count
}

func (c *Center) MarkAsRead(ctx context.Context, id string) {
	c.update(ctx, func(n *Notification) bool {
		if n.ID != id {
			return false
		}
		n.Read = true
		return true
	})
}

func (c *Center) MarkAllAsRead(ctx context.Context) {
	c.update(ctx, func(n *Notification) bool {
		n.Read = true
		return true
	})
}

// RemoveToastOnly dismisses the toast of a notification also kept in the panel.
func (c *Center) RemoveToastOnly(ctx context.Context, id string) {
	c.update(ctx, func(n *Notification) bool {
		if n.ID != id || n.Visibility != Both {
			return false
		}
		n.Visibility = Panel
		return true
	})
}

func (c *Center) Remove(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.list[:0]
	removed := false
	for _, n := range c.list {
		if n.ID == id {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	c.list = kept
	if removed {
		c.saveLocked(ctx)
	}
}

// Expire drops toasts older than the ttl and moves expired "both"
// notifications to the panel.
func (c *Center) Expire(ctx context.Context, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.list[:0]
	changed := false
	for _, n := range c.list {
		if now.Sub(n.CreatedAt) >= c.ttl {
			switch n.Visibility {
			case Toast:
				changed = true
				continue
			case Both:
				n.Visibility = Panel
				changed = true
			}
		}
		kept = append(kept, n)
	}
	c.list = kept
	if changed {
		c.saveLocked(ctx)
	}
}

// Run expires toasts until ctx is done.
func (c *Center) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Expire(ctx, c.now())
		}
	}
}

// Snapshot returns a copy of all notifications, newest first.
func (c *Center) Snapshot() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification{}, c.list...)
}

func (c *Center) update(ctx context.Context, fn func(n *Notification) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for i := range c.list {
		if fn(&c.list[i]) {
			changed = true
		}
	}
	if changed {
		c.saveLocked(ctx)
	}
}

func (c *Center) saveLocked(ctx context.Context) {
	if c.archive == nil {
		return
	}
	if err := c.archive.Save(ctx, c.userID, c.list); err != nil {
		c.logger.WithError(err).WithField("user", c.userID).Warn("failed to save notifications")
	}
}
