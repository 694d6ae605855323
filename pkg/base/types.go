package base

import (
	"io"

	"github.com/emersion/go-imap"
)

// Client is an interface over the go-imap client methods this engine uses.
// It exists so the session and store layers can be exercised against mocks.
type Client interface {
	Expunge(ch chan uint32) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Login(username string, password string) error
	Logout() error
	Noop() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	State() imap.ConnState
	UidCopy(seqset *imap.SeqSet, dest string) error
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidSearch(criteria *imap.SearchCriteria) (uids []uint32, err error)
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
}

// SubmissionClient is the subset of an SMTP client used for sending.
// Authentication happens inside the dialer, so callers only ever see a
// ready-to-send session.
type SubmissionClient interface {
	SendMail(from string, to []string, r io.Reader) error
	Noop() error
	Quit() error
	Close() error
}

// ConnectionState tracks a protocol session's lifecycle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateBroken
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	default:
		return "disconnected"
	}
}
