// Package address resolves caller-supplied message tokens. A token is either
// the sentinel "latest", a 1-based display ordinal, or a stable identity.
// Ordinals are snapshot-relative and recomputed on every call; anything that
// outlives a single call must carry the stable identity instead.
package address

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/pkg/base"
	"github.com/lLiuRunze/mail-agent/pkg/messagestore"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
)

// Resolver turns address tokens into stable identities.
type Resolver struct {
	store  messagestore.Store
	logger *slog.Logger
}

type ResolverOption func(*Resolver)

func WithStore(store messagestore.Store) ResolverOption {
	return func(r *Resolver) { r.store = store }
}

func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

func NewResolver(opts ...ResolverOption) (*Resolver, error) {
	var r Resolver
	for _, opt := range opts {
		opt(&r)
	}
	if r.store == nil {
		return nil, errors.New("message store is required")
	}
	if r.logger == nil {
		return nil, errors.New("logger is required")
	}
	return &r, nil
}

// Resolve maps token to a stable identity within folder. snapshotSize bounds
// the listing used for ordinal tokens; the ordinal itself raises the bound
// when larger.
func (r *Resolver) Resolve(token, folder string, snapshotSize int) (message.StableID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", base.ValidationError{Reason: "empty address token"}
	}

	if strings.EqualFold(token, "latest") {
		msgs, err := r.store.ListRecent(folder, 1, 0)
		if err != nil {
			return "", err
		}
		if len(msgs) == 0 {
			return "", base.NotFoundError{Kind: "message", Target: token}
		}
		return msgs[0].ID, nil
	}

	if ordinal, err := strconv.Atoi(token); err == nil {
		if ordinal <= 0 {
			return "", base.ValidationError{Reason: "ordinal must be positive"}
		}
		size := snapshotSize
		if ordinal > size {
			size = ordinal
		}
		msgs, err := r.store.ListRecent(folder, size, 0)
		if err != nil {
			return "", err
		}
		// Match on the assigned ordinal, not the slice index: filtered
		// views (starred) keep their inbox positions and may have gaps.
		for _, m := range msgs {
			if m.Ordinal == ordinal {
				return m.ID, nil
			}
		}
		return "", base.NotFoundError{Kind: "message", Target: token}
	}

	// Anything else is treated as a stable identity and confirmed against
	// the server before use.
	id := message.StableID(token)
	if _, _, err := id.Parse(); err != nil {
		return "", base.ValidationError{Reason: "unrecognized address token: " + token}
	}
	if _, err := r.store.Fetch(folder, id, false); err != nil {
		return "", err
	}
	return id, nil
}

// ResolveMany resolves tokens in order, stopping at the first error.
func (r *Resolver) ResolveMany(tokens []string, folder string, snapshotSize int) ([]message.StableID, error) {
	ids := make([]message.StableID, 0, len(tokens))
	for _, token := range tokens {
		id, err := r.Resolve(token, folder, snapshotSize)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving %q", token)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
