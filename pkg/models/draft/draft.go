// Package draft holds generated replies awaiting user confirmation. A draft
// snapshots everything needed to send, so confirmation works even after the
// original message has been moved or expired server-side.
package draft

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/pkg/base"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
)

// Draft is a staged reply. To and Subject are captured from the original
// message at staging time.
type Draft struct {
	ID       message.StableID
	To       string
	Subject  string
	Body     string
	StagedAt time.Time
}

// Cache stores at most one staged draft per message. It is safe for
// concurrent use, though each account's executor owns its own cache.
type Cache struct {
	mu     sync.Mutex
	drafts map[message.StableID]Draft
	logger *slog.Logger
	now    func() time.Time
}

type CacheOption func(*Cache)

func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the staging timestamp source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(opts ...CacheOption) (*Cache, error) {
	c := Cache{
		drafts: make(map[message.StableID]Draft),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		return nil, errors.New("logger is required")
	}
	return &c, nil
}

// Stage stores or overwrites the draft for d.ID, stamped with the current
// time.
func (c *Cache) Stage(d Draft) error {
	if d.ID == "" {
		return base.ValidationError{Reason: "draft requires a message identity"}
	}
	if d.To == "" {
		return base.ValidationError{Reason: "draft requires a recipient"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d.StagedAt = c.now()
	c.drafts[d.ID] = d
	c.logger.Info("reply draft staged",
		slog.String("id", string(d.ID)),
		slog.String("to", d.To),
	)
	return nil
}

// Confirm sends the staged draft for id, or the most recently staged draft
// when id is empty. On success the entry is removed, so each staged draft is
// delivered at most once; on failure it is retained for a later retry.
func (c *Cache) Confirm(id message.StableID, send func(Draft) error) (Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.pickLocked(id)
	if !ok {
		return Draft{}, base.NotFoundError{Kind: "draft", Target: string(id)}
	}
	if err := send(d); err != nil {
		c.logger.Warn("draft send failed, retaining for retry",
			slog.String("id", string(d.ID)),
			slog.String("error", err.Error()),
		)
		return Draft{}, err
	}
	delete(c.drafts, d.ID)
	return d, nil
}

// Peek returns the draft for id, or the most recently staged one when id is
// empty, without removing it.
func (c *Cache) Peek(id message.StableID) (Draft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pickLocked(id)
}

// Discard drops the draft for id if present.
func (c *Cache) Discard(id message.StableID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drafts, id)
}

// Len reports how many drafts are staged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.drafts)
}

func (c *Cache) pickLocked(id message.StableID) (Draft, bool) {
	if id != "" {
		d, ok := c.drafts[id]
		return d, ok
	}
	var newest Draft
	found := false
	for _, d := range c.drafts {
		if !found || d.StagedAt.After(newest.StagedAt) {
			newest = d
			found = true
		}
	}
	return newest, found
}
