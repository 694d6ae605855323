// Package messagestore reads messages from the retrieval protocol: recent
// listings with display ordinals, direct fetches by stable identity, and
// keyword search. All reads go through the session manager's retry wrapper.
package messagestore

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/pkg/base"
	"github.com/lLiuRunze/mail-agent/pkg/folders"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
	"github.com/lLiuRunze/mail-agent/pkg/session"
	"github.com/lLiuRunze/mail-agent/pkg/utils"
)

const defaultWindowDays = 30

func init() {
	// Servers emit envelopes and bodies in whatever charset the sender used.
	imap.CharsetReader = charset.Reader
}

// Store reads messages from one account's mailbox.
type Store interface {
	ListRecent(folder string, count, days int) ([]message.Message, error)
	Fetch(folder string, id message.StableID, full bool) (message.Message, error)
	FetchMany(folder string, ids []message.StableID) ([]message.Message, error)
	Search(folder, query string, count int) ([]message.Message, error)
}

// StoreImpl implements Store over a session manager and folder resolver.
type StoreImpl struct {
	sessions session.Manager
	resolver *folders.Resolver
	logger   *slog.Logger
}

type StoreOption func(*StoreImpl)

func WithSessionManager(m session.Manager) StoreOption {
	return func(s *StoreImpl) { s.sessions = m }
}

func WithFolderResolver(r *folders.Resolver) StoreOption {
	return func(s *StoreImpl) { s.resolver = r }
}

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *StoreImpl) { s.logger = logger }
}

func NewStore(opts ...StoreOption) (*StoreImpl, error) {
	var s StoreImpl
	for _, opt := range opts {
		opt(&s)
	}
	if s.sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if s.resolver == nil {
		return nil, errors.New("folder resolver is required")
	}
	if s.logger == nil {
		return nil, errors.New("logger is required")
	}
	return &s, nil
}

// selectFolder resolves and selects a folder. The starred role selects the
// inbox and reports flaggedOnly so callers filter on the \Flagged flag.
func (s *StoreImpl) selectFolder(c base.Client, folder string, readOnly bool) (*imap.MailboxStatus, bool, error) {
	flaggedOnly := false
	name, err := s.resolver.Resolve(c, folder)
	if errors.Is(err, folders.ErrVirtualFolder) {
		name = "INBOX"
		flaggedOnly = true
	} else if err != nil {
		return nil, false, err
	}

	status, err := c.Select(name, readOnly)
	if err != nil {
		return nil, false, errors.Wrapf(err, "selecting %q", name)
	}
	return status, flaggedOnly, nil
}

// ListRecent returns the count most recent messages in a folder, newest
// first, with ordinals 1..N. The starred role lists the inbox filtered to
// flagged messages, keeping each message's inbox ordinal so ordinal tokens
// stay resolvable against the same snapshot.
func (s *StoreImpl) ListRecent(folder string, count, days int) ([]message.Message, error) {
	if count <= 0 {
		return nil, base.ValidationError{Reason: "count must be positive"}
	}

	var out []message.Message
	err := s.sessions.Retrieval(func(c base.Client) error {
		status, flaggedOnly, err := s.selectFolder(c, folder, true)
		if err != nil {
			return err
		}
		uids, err := s.recentUIDs(c, count, days)
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			out = nil
			return nil
		}

		msgs, err := s.fetchHeaders(c, status.UidValidity, uids)
		if err != nil {
			return err
		}
		if flaggedOnly {
			flagged := msgs[:0]
			for _, m := range msgs {
				if m.Flagged {
					flagged = append(flagged, m)
				}
			}
			msgs = flagged
		}
		out = msgs
		return nil
	})
	return out, err
}

// recentUIDs searches the selected folder inside a rolling window, falling
// back to an unbounded search when the window is empty, and returns the last
// count UIDs reversed to newest-first.
func (s *StoreImpl) recentUIDs(c base.Client, count, days int) ([]uint32, error) {
	if days <= 0 {
		days = defaultWindowDays
	}
	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().AddDate(0, 0, -days)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, errors.Wrap(err, "searching recent messages")
	}
	if len(uids) == 0 {
		s.logger.Debug("window search empty, falling back to full search", slog.Int("days", days))
		if uids, err = c.UidSearch(imap.NewSearchCriteria()); err != nil {
			return nil, errors.Wrap(err, "searching all messages")
		}
	}
	if len(uids) > count {
		uids = uids[len(uids)-count:]
	}
	// Server order is ascending by arrival; newest goes first.
	reversed := make([]uint32, len(uids))
	for i, uid := range uids {
		reversed[len(uids)-1-i] = uid
	}
	return reversed, nil
}

// fetchHeaders fetches envelope and flags for uids, which are given in
// display order. Ordinals follow that order, 1-based.
func (s *StoreImpl) fetchHeaders(c base.Client, uidValidity uint32, uids []uint32) ([]message.Message, error) {
	var seqset imap.SeqSet
	for _, uid := range uids {
		seqset.AddNum(uid)
	}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(&seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid}, ch)
	}()

	byUID := make(map[uint32]message.Message, len(uids))
	for msg := range ch {
		byUID[msg.Uid] = fromFetched(uidValidity, msg, "")
	}
	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "fetching headers")
	}

	out := make([]message.Message, 0, len(uids))
	for i, uid := range uids {
		m, ok := byUID[uid]
		if !ok {
			continue
		}
		m.Ordinal = i + 1
		out = append(out, m)
	}
	return out, nil
}

// Fetch retrieves one message by stable identity. With full set, the body is
// downloaded and decoded; otherwise only envelope and flags are read.
func (s *StoreImpl) Fetch(folder string, id message.StableID, full bool) (message.Message, error) {
	uidValidity, uid, err := id.Parse()
	if err != nil {
		return message.Message{}, base.ValidationError{Reason: err.Error()}
	}

	var out message.Message
	err = s.sessions.Retrieval(func(c base.Client) error {
		status, _, err := s.selectFolder(c, folder, true)
		if err != nil {
			return err
		}
		if status.UidValidity != uidValidity {
			return base.NotFoundError{Kind: "message", Target: string(id)}
		}

		var seqset imap.SeqSet
		seqset.AddNum(uid)

		items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid}
		section := &imap.BodySectionName{Peek: true}
		if full {
			items = append(items, section.FetchItem())
		}

		ch := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(&seqset, items, ch)
		}()

		var fetched *imap.Message
		for msg := range ch {
			fetched = msg
		}
		if err := <-done; err != nil {
			return errors.Wrap(err, "fetching message")
		}
		if fetched == nil {
			return base.NotFoundError{Kind: "message", Target: string(id)}
		}

		body := ""
		if full {
			if literal := fetched.GetBody(section); literal != nil {
				body = decodeBody(literal)
			}
		}
		out = fromFetched(status.UidValidity, fetched, body)
		return nil
	})
	return out, err
}

// FetchMany retrieves messages by stable identity, skipping any that no
// longer exist rather than failing the whole call.
func (s *StoreImpl) FetchMany(folder string, ids []message.StableID) ([]message.Message, error) {
	out := make([]message.Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.Fetch(folder, id, false)
		if err != nil {
			var notFound base.NotFoundError
			if errors.As(err, &notFound) {
				s.logger.Debug("skipping missing message", slog.String("id", string(id)))
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Search finds up to count messages matching query in subject, sender, or
// body text, newest first with ordinals.
func (s *StoreImpl) Search(folder, query string, count int) ([]message.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, base.ValidationError{Reason: "search query must not be empty"}
	}
	if count <= 0 {
		count = 10
	}

	var out []message.Message
	err := s.sessions.Retrieval(func(c base.Client) error {
		status, _, err := s.selectFolder(c, folder, true)
		if err != nil {
			return err
		}

		uids, err := c.UidSearch(searchCriteria(query))
		if err != nil {
			return errors.Wrap(err, "searching messages")
		}
		if len(uids) == 0 {
			out = nil
			return nil
		}
		if len(uids) > count {
			uids = uids[len(uids)-count:]
		}
		reversed := make([]uint32, len(uids))
		for i, uid := range uids {
			reversed[len(uids)-1-i] = uid
		}

		msgs, err := s.fetchHeaders(c, status.UidValidity, reversed)
		if err != nil {
			return err
		}
		out = msgs
		return nil
	})
	return out, err
}

// searchCriteria matches query against subject, sender, or full text.
func searchCriteria(query string) *imap.SearchCriteria {
	subject := imap.NewSearchCriteria()
	subject.Header.Set("Subject", query)
	from := imap.NewSearchCriteria()
	from.Header.Set("From", query)
	text := imap.NewSearchCriteria()
	text.Text = []string{query}

	inner := imap.NewSearchCriteria()
	inner.Or = [][2]*imap.SearchCriteria{{from, text}}
	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{subject, inner}}
	return criteria
}

// fromFetched builds the caller-facing model from a fetched message.
func fromFetched(uidValidity uint32, msg *imap.Message, body string) message.Message {
	m := message.Message{
		ID:   message.NewStableID(uidValidity, msg.Uid),
		Body: body,
	}
	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			m.Seen = true
		case imap.FlaggedFlag:
			m.Flagged = true
		}
	}
	if env := msg.Envelope; env != nil {
		m.Subject = utils.DecodeHeader(env.Subject)
		m.Date = env.Date
		if len(env.From) > 0 {
			m.From = env.From[0].Address()
			m.FromName = utils.DecodeHeader(env.From[0].PersonalName)
		}
		for _, addr := range env.To {
			m.To = append(m.To, addr.Address())
		}
	}
	return m
}

// decodeBody parses a raw message body, preferring the first plain-text
// part, then the first HTML part with tags stripped, then empty.
func decodeBody(literal imap.Literal) string {
	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	html := ""
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, err := header.ContentType()
		if err != nil {
			continue
		}
		switch ctype {
		case "text/plain":
			return readPart(part)
		case "text/html":
			if html == "" {
				html = utils.StripHTML(readPart(part))
			}
		}
	}
	return html
}

func readPart(part *mail.Part) string {
	data, _ := io.ReadAll(part.Body)
	return string(data)
}
