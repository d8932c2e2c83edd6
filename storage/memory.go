package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"planit/domain"
)

// Memory is an in-process Store used by tests and local runs.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memCollection
	subs        map[int]*memorySub
	nextSub     int
	newID       func() string
}

type memCollection struct {
	order []string
	docs  map[string]map[string]any
}

type memorySub struct {
	collection string
	filters    []Filter
	ch         chan Snapshot
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*memCollection),
		subs:        make(map[int]*memorySub),
		newID:       uuid.NewString,
	}
}

func (m *Memory) collection(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]map[string]any)}
		m.collections[name] = c
	}
	return c
}

// Query returns matching documents in insertion order.
func (m *Memory) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryLocked(collection, filters), nil
}

func (m *Memory) queryLocked(collection string, filters []Filter) []Document {
	c, ok := m.collections[collection]
	if !ok {
		return []Document{}
	}
	docs := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		fields := c.docs[id]
		if !matchAll(filters, fields) {
			continue
		}
		docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
	}
	return docs
}

func (m *Memory) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	id := m.newID()
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("create %s/%s: %w", collection, id, ErrConcurrencyConflict)
	}
	c.docs[id] = cloneFields(fields)
	c.order = append(c.order, id)
	m.notifyLocked(collection)
	return id, nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := domain.SplitDocPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("update %s: %w", path, ErrNotFound)
	}
	doc, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("update %s: %w", path, ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = cloneValue(v)
	}
	m.notifyLocked(collection)
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := domain.SplitDocPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil
	}
	if _, ok := c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	m.notifyLocked(collection)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, collection string, filters ...Filter) <-chan Snapshot {
	sub := &memorySub{
		collection: collection,
		filters:    append([]Filter{}, filters...),
		ch:         make(chan Snapshot, 1),
	}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	offer(sub.ch, Snapshot{Docs: m.queryLocked(collection, sub.filters)})
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		close(sub.ch)
		m.mu.Unlock()
	}()
	return sub.ch
}

func (m *Memory) notifyLocked(collection string) {
	for _, sub := range m.subs {
		if sub.collection != collection {
			continue
		}
		offer(sub.ch, Snapshot{Docs: m.queryLocked(collection, sub.filters)})
	}
}
