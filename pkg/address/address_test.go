package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lLiuRunze/mail-agent/pkg/base"
	"github.com/lLiuRunze/mail-agent/pkg/mock"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
)

// fakeStore is a canned message store. listed is returned from ListRecent;
// known Fetches succeed.
type fakeStore struct {
	listed     []message.Message
	known      map[message.StableID]message.Message
	lastCount  int
	lastFolder string
}

func (f *fakeStore) ListRecent(folder string, count, days int) ([]message.Message, error) {
	f.lastCount = count
	f.lastFolder = folder
	if count < len(f.listed) {
		return f.listed[:count], nil
	}
	return f.listed, nil
}

func (f *fakeStore) Fetch(folder string, id message.StableID, full bool) (message.Message, error) {
	if m, ok := f.known[id]; ok {
		return m, nil
	}
	return message.Message{}, base.NotFoundError{Kind: "message", Target: string(id)}
}

func (f *fakeStore) FetchMany(folder string, ids []message.StableID) ([]message.Message, error) {
	return nil, nil
}

func (f *fakeStore) Search(folder, query string, count int) ([]message.Message, error) {
	return nil, nil
}

func newTestResolver(t *testing.T, store *fakeStore) *Resolver {
	t.Helper()
	r, err := NewResolver(WithStore(store), WithLogger(mock.SetupLogger(t)))
	require.NoError(t, err)
	return r
}

func listing(ordinals ...int) []message.Message {
	msgs := make([]message.Message, len(ordinals))
	for i, o := range ordinals {
		msgs[i] = message.Message{ID: message.NewStableID(7, uint32(100+o)), Ordinal: o}
	}
	return msgs
}

func TestResolveLatest(t *testing.T) {
	store := &fakeStore{listed: listing(1, 2, 3)}
	r := newTestResolver(t, store)

	id, err := r.Resolve("latest", "inbox", 10)
	require.NoError(t, err)
	assert.Equal(t, message.NewStableID(7, 101), id)
	assert.Equal(t, 1, store.lastCount)
}

func TestResolveOrdinal(t *testing.T) {
	store := &fakeStore{listed: listing(1, 2, 3)}
	r := newTestResolver(t, store)

	id, err := r.Resolve("2", "inbox", 10)
	require.NoError(t, err)
	assert.Equal(t, message.NewStableID(7, 102), id)
	assert.Equal(t, 10, store.lastCount)
}

func TestResolveOrdinalRaisesSnapshotSize(t *testing.T) {
	store := &fakeStore{listed: listing(1, 2, 3)}
	r := newTestResolver(t, store)

	_, err := r.Resolve("25", "inbox", 10)
	require.Error(t, err)
	assert.Equal(t, 25, store.lastCount)
}

func TestResolveOrdinalWithGaps(t *testing.T) {
	// A starred listing keeps inbox positions, so ordinals may skip.
	store := &fakeStore{listed: listing(1, 3)}
	r := newTestResolver(t, store)

	id, err := r.Resolve("3", "starred", 10)
	require.NoError(t, err)
	assert.Equal(t, message.NewStableID(7, 103), id)

	_, err = r.Resolve("2", "starred", 10)
	var notFound base.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveOrdinalOutOfRange(t *testing.T) {
	store := &fakeStore{listed: listing(1, 2)}
	r := newTestResolver(t, store)

	_, err := r.Resolve("9", "inbox", 2)
	var notFound base.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveStableIdentityConfirmed(t *testing.T) {
	known := message.NewStableID(7, 42)
	store := &fakeStore{known: map[message.StableID]message.Message{known: {ID: known}}}
	r := newTestResolver(t, store)

	id, err := r.Resolve(string(known), "inbox", 10)
	require.NoError(t, err)
	assert.Equal(t, known, id)

	_, err = r.Resolve("7-999", "inbox", 10)
	var notFound base.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveGarbageToken(t *testing.T) {
	store := &fakeStore{}
	r := newTestResolver(t, store)

	for _, token := range []string{"", "banana", "-3", "0"} {
		_, err := r.Resolve(token, "inbox", 10)
		require.Error(t, err, "token %q", token)
	}
}

func TestResolveMany(t *testing.T) {
	store := &fakeStore{listed: listing(1, 2, 3)}
	r := newTestResolver(t, store)

	ids, err := r.ResolveMany([]string{"1", "3"}, "inbox", 10)
	require.NoError(t, err)
	assert.Equal(t, []message.StableID{
		message.NewStableID(7, 101),
		message.NewStableID(7, 103),
	}, ids)

	_, err = r.ResolveMany([]string{"1", "99"}, "inbox", 10)
	require.Error(t, err)
}
