package messagestore

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"github.com/lLiuRunze/mail-agent/pkg/base"
	"github.com/lLiuRunze/mail-agent/pkg/folders"
	"github.com/lLiuRunze/mail-agent/pkg/mock"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
)

// stubSessions hands the wrapped client straight to retrieval callbacks.
type stubSessions struct {
	c base.Client
}

func (s stubSessions) EnsureIMAP() (base.Client, error) { return s.c, nil }
func (s stubSessions) Retrieval(fn func(c base.Client) error) error { return fn(s.c) }
func (s stubSessions) Submission() (base.SubmissionClient, error) { return nil, errors.New("not wired") }
func (s stubSessions) ResetSubmission() {}
func (s stubSessions) Disconnect() {}

func newTestStore(t *testing.T, c base.Client) *StoreImpl {
	t.Helper()
	logger := mock.SetupLogger(t)
	resolver, err := folders.NewResolver(folders.WithLogger(logger))
	require.NoError(t, err)
	store, err := NewStore(
		WithSessionManager(stubSessions{c: c}),
		WithFolderResolver(resolver),
		WithLogger(logger),
	)
	require.NoError(t, err)
	return store
}

func envelope(uid uint32, subject, from string, date time.Time) *imap.Message {
	return &imap.Message{
		Uid: uid,
		Envelope: &imap.Envelope{
			Subject: subject,
			Date:    date,
			From:    []*imap.Address{{PersonalName: "", MailboxName: from, HostName: "example.com"}},
		},
	}
}

func expectFetchHeaders(client *mock.MockClient, msgs ...*imap.Message) {
	client.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
			defer close(ch)
			for _, m := range msgs {
				ch <- m
			}
			return nil
		})
}

func TestListRecentOrdinalsNewestFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	now := time.Now()
	wantCriteria := imap.NewSearchCriteria()
	wantCriteria.Since = now.AddDate(0, 0, -30)

	client.EXPECT().Select("INBOX", true).Return(&imap.MailboxStatus{UidValidity: 7}, nil)
	client.EXPECT().UidSearch(mock.NewSearchCriteriaMatcher(wantCriteria, time.Minute)).
		Return([]uint32{11, 12, 13, 14, 15}, nil)
	expectFetchHeaders(client,
		envelope(13, "third", "c", now.Add(-2*time.Hour)),
		envelope(14, "second", "b", now.Add(-time.Hour)),
		envelope(15, "first", "a", now),
	)

	store := newTestStore(t, client)
	msgs, err := store.ListRecent("inbox", 3, 30)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "first", msgs[0].Subject)
	assert.Equal(t, 1, msgs[0].Ordinal)
	assert.Equal(t, message.NewStableID(7, 15), msgs[0].ID)
	assert.Equal(t, "third", msgs[2].Subject)
	assert.Equal(t, 3, msgs[2].Ordinal)
}

func TestListRecentFallsBackToUnboundedSearch(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	client.EXPECT().Select("INBOX", true).Return(&imap.MailboxStatus{UidValidity: 7}, nil)
	gomock.InOrder(
		client.EXPECT().UidSearch(gomock.Any()).Return(nil, nil),
		client.EXPECT().UidSearch(gomock.Any()).Return([]uint32{3}, nil),
	)
	expectFetchHeaders(client, envelope(3, "old mail", "a", time.Now().AddDate(0, -6, 0)))

	store := newTestStore(t, client)
	msgs, err := store.ListRecent("inbox", 5, 30)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].Ordinal)
}

func TestListRecentStarredKeepsInboxOrdinals(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	flagged := envelope(21, "starred one", "a", time.Now())
	flagged.Flags = []string{imap.FlaggedFlag}
	flagged2 := envelope(23, "starred two", "c", time.Now().Add(-2*time.Hour))
	flagged2.Flags = []string{imap.FlaggedFlag, imap.SeenFlag}

	client.EXPECT().Select("INBOX", true).Return(&imap.MailboxStatus{UidValidity: 7}, nil)
	client.EXPECT().UidSearch(gomock.Any()).Return([]uint32{21, 22, 23}, nil)
	expectFetchHeaders(client,
		flagged,
		envelope(22, "plain", "b", time.Now().Add(-time.Hour)),
		flagged2,
	)

	store := newTestStore(t, client)
	msgs, err := store.ListRecent("starred", 3, 30)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Inbox positions survive the flagged filter, gaps included.
	assert.Equal(t, "starred two", msgs[0].Subject)
	assert.Equal(t, 1, msgs[0].Ordinal)
	assert.Equal(t, "starred one", msgs[1].Subject)
	assert.Equal(t, 3, msgs[1].Ordinal)
}

func TestFetchFullDecodesPlainTextBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	raw := "From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: lunch\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Nimbus cafe at noon?\r\n"

	fetched := envelope(42, "lunch", "alice", time.Now())
	fetched.Body = map[*imap.BodySectionName]imap.Literal{
		{}: mock.NewStringLiteral(raw),
	}

	client.EXPECT().Select("INBOX", true).Return(&imap.MailboxStatus{UidValidity: 7}, nil)
	client.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
			defer close(ch)
			assert.Len(t, items, 4)
			ch <- fetched
			return nil
		})

	store := newTestStore(t, client)
	msg, err := store.Fetch("inbox", message.NewStableID(7, 42), true)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Nimbus cafe at noon?")
	assert.Equal(t, "lunch", msg.Subject)
}

func TestFetchUidValidityMismatchIsNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)
	client.EXPECT().Select("INBOX", true).Return(&imap.MailboxStatus{UidValidity: 8}, nil)

	store := newTestStore(t, client)
	_, err := store.Fetch("inbox", message.NewStableID(7, 42), false)

	var notFound base.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestFetchMalformedIDIsValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	store := newTestStore(t, client)
	_, err := store.Fetch("inbox", message.StableID("latest"), false)

	var invalid base.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestFetchManySkipsMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	client.EXPECT().Select("INBOX", true).Return(&imap.MailboxStatus{UidValidity: 7}, nil).Times(2)
	gomock.InOrder(
		client.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
				defer close(ch)
				ch <- envelope(1, "kept", "a", time.Now())
				return nil
			}),
		client.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
				close(ch)
				return nil
			}),
	)

	store := newTestStore(t, client)
	msgs, err := store.FetchMany("inbox", []message.StableID{
		message.NewStableID(7, 1),
		message.NewStableID(7, 2),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Subject)
}

func TestSearchReturnsNewestFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	client.EXPECT().Select("INBOX", true).Return(&imap.MailboxStatus{UidValidity: 7}, nil)
	client.EXPECT().UidSearch(gomock.Any()).Return([]uint32{5, 9}, nil)
	expectFetchHeaders(client,
		envelope(5, "invoice april", "b", time.Now().Add(-time.Hour)),
		envelope(9, "invoice may", "a", time.Now()),
	)

	store := newTestStore(t, client)
	msgs, err := store.Search("inbox", "invoice", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "invoice may", msgs[0].Subject)
	assert.Equal(t, 1, msgs[0].Ordinal)
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	store := newTestStore(t, client)
	_, err := store.Search("inbox", "   ", 10)

	var invalid base.ValidationError
	assert.ErrorAs(t, err, &invalid)
}
