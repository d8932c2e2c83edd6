package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"planit/domain"
)

const changesChannelPrefix = "planit:changes:"

// changeNotice is published after every successful write.
type changeNotice struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         string `json:"op"`
}

// Realtime turns a Querier and Mutator into a Store by publishing a change
// notice to Redis after each write and re-querying on every notice.
type Realtime struct {
	query     Querier
	mutate    Mutator
	redis     *redis.Client
	logger    *log.Logger
	reconnect time.Duration
}

// NewRealtime wires the change feed. A nil logger uses the standard logger.
func NewRealtime(q Querier, m Mutator, rc *redis.Client, logger *log.Logger) *Realtime {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Realtime{query: q, mutate: m, redis: rc, logger: logger, reconnect: time.Second}
}

func changesChannel(collection string) string {
	return changesChannelPrefix + collection
}

func (r *Realtime) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := r.mutate.Create(ctx, collection, fields)
	if err != nil {
		return "", err
	}
	r.publish(ctx, collection, id, "create")
	return id, nil
}

func (r *Realtime) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := r.mutate.Update(ctx, path, fields); err != nil {
		return err
	}
	collection, id, _ := domain.SplitDocPath(path)
	r.publish(ctx, collection, id, "update")
	return nil
}

func (r *Realtime) Delete(ctx context.Context, path string) error {
	if err := r.mutate.Delete(ctx, path); err != nil {
		return err
	}
	collection, id, _ := domain.SplitDocPath(path)
	r.publish(ctx, collection, id, "delete")
	return nil
}

// publish failures are logged only; the write itself already succeeded.
func (r *Realtime) publish(ctx context.Context, collection, id, op string) {
	data, err := sonic.Marshal(changeNotice{Collection: collection, ID: id, Op: op})
	if err != nil {
		r.logger.WithError(err).Error("marshal change notice")
		return
	}
	if err := r.redis.Publish(ctx, changesChannel(collection), data).Err(); err != nil {
		r.logger.WithError(err).WithField("collection", collection).Error("publish change notice")
	}
}

func (r *Realtime) Subscribe(ctx context.Context, collection string, filters ...Filter) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	filters = append([]Filter{}, filters...)
	ready := make(chan struct{})
	go func() {
		defer close(out)
		r.watch(ctx, collection, filters, out, ready)
	}()
	<-ready
	return out
}

func (r *Realtime) watch(ctx context.Context, collection string, filters []Filter, out chan Snapshot, ready chan struct{}) {
	signalled := false
	signal := func() {
		if !signalled {
			signalled = true
			close(ready)
		}
	}
	defer signal()

	for {
		sub := r.redis.Subscribe(ctx, changesChannel(collection))
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			r.logger.WithError(err).WithField("collection", collection).Error("subscribe to changes")
			offer(out, Snapshot{Err: err})
			signal()
			if !sleepCtx(ctx, r.reconnect) {
				return
			}
			continue
		}
		ch := sub.Channel()
		r.deliver(ctx, collection, filters, out)
		signal()

	loop:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break loop
				}
				r.deliver(ctx, collection, filters, out)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("pubsub channel closed, reconnecting")
		if !sleepCtx(ctx, r.reconnect) {
			return
		}
	}
}

func (r *Realtime) deliver(ctx context.Context, collection string, filters []Filter, out chan Snapshot) {
	docs, err := r.query.Query(ctx, collection, filters...)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.WithError(err).WithField("collection", collection).Error("query snapshot")
		offer(out, Snapshot{Err: err})
		return
	}
	offer(out, Snapshot{Docs: docs})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
