// Package mutations implements the operations that change mailbox or server
// state: sending, replying, forwarding, archiving, deleting, and flag
// changes. Every operation addresses messages by stable identity only.
package mutations

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/internal/config"
	"github.com/lLiuRunze/mail-agent/pkg/base"
	"github.com/lLiuRunze/mail-agent/pkg/batch"
	"github.com/lLiuRunze/mail-agent/pkg/folders"
	"github.com/lLiuRunze/mail-agent/pkg/messagestore"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
	"github.com/lLiuRunze/mail-agent/pkg/session"
)

// Operator applies mailbox mutations for one account.
type Operator struct {
	account  config.Account
	sessions session.Manager
	store    messagestore.Store
	resolver *folders.Resolver
	logger   *slog.Logger
}

type OperatorOption func(*Operator)

func WithAccount(acct config.Account) OperatorOption {
	return func(o *Operator) { o.account = acct }
}

func WithSessionManager(m session.Manager) OperatorOption {
	return func(o *Operator) { o.sessions = m }
}

func WithStore(store messagestore.Store) OperatorOption {
	return func(o *Operator) { o.store = store }
}

func WithFolderResolver(r *folders.Resolver) OperatorOption {
	return func(o *Operator) { o.resolver = r }
}

func WithLogger(logger *slog.Logger) OperatorOption {
	return func(o *Operator) { o.logger = logger }
}

func NewOperator(opts ...OperatorOption) (*Operator, error) {
	var o Operator
	for _, opt := range opts {
		opt(&o)
	}
	if o.account.Address == "" {
		return nil, errors.New("account is required")
	}
	if o.sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if o.store == nil {
		return nil, errors.New("message store is required")
	}
	if o.resolver == nil {
		return nil, errors.New("folder resolver is required")
	}
	if o.logger == nil {
		return nil, errors.New("logger is required")
	}
	return &o, nil
}

// SendEmail composes and submits a plain-text message.
func (o *Operator) SendEmail(to []string, subject, body string) error {
	if len(to) == 0 {
		return base.ValidationError{Reason: "at least one recipient is required"}
	}
	return o.submit(to, subject, body)
}

// Reply sends content to the original sender with a reply-marked subject.
// It returns the original message for display context.
func (o *Operator) Reply(folder string, id message.StableID, content string) (message.Message, error) {
	original, err := o.store.Fetch(folder, id, false)
	if err != nil {
		return message.Message{}, err
	}
	if original.From == "" {
		return message.Message{}, base.ValidationError{Reason: "original message has no sender address"}
	}
	if err := o.submit([]string{original.From}, ReplySubject(original.Subject), content); err != nil {
		return message.Message{}, err
	}
	o.logger.Info("reply sent",
		slog.String("to", original.From),
		slog.String("subject", original.Subject),
	)
	return original, nil
}

// Forward sends the message to recipient with the original quoted inline.
func (o *Operator) Forward(folder string, id message.StableID, recipient string) error {
	original, err := o.store.Fetch(folder, id, true)
	if err != nil {
		return err
	}
	return o.forwardFetched(original, recipient)
}

// ForwardMany forwards one message to several recipients. The submission
// session is torn down between sends; some providers treat a session that
// already sent as stale and refuse the next message.
func (o *Operator) ForwardMany(folder string, id message.StableID, recipients []string) (batch.Report, error) {
	original, err := o.store.Fetch(folder, id, true)
	if err != nil {
		return batch.Report{}, err
	}
	report := batch.Run(o.logger, recipients, func(recipient string) error {
		defer o.sessions.ResetSubmission()
		return o.forwardFetched(original, recipient)
	})
	return report, nil
}

// ResetSubmission drops the current submission session so the next send
// dials fresh. Callers forwarding several messages in a row use it between
// sends for the same reason ForwardMany does.
func (o *Operator) ResetSubmission() {
	o.sessions.ResetSubmission()
}

func (o *Operator) forwardFetched(original message.Message, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return base.ValidationError{Reason: "recipient is required"}
	}
	return o.submit([]string{recipient}, ForwardSubject(original.Subject), QuoteForward(original))
}

// Archive copies the message to the target folder role, flags the source
// copy deleted, and expunges. If the copy fails nothing is deleted.
func (o *Operator) Archive(folder string, id message.StableID, targetRole string) error {
	uid, err := o.checkedUID(id)
	if err != nil {
		return err
	}
	if targetRole == "" {
		targetRole = "archive"
	}
	return o.sessions.Retrieval(func(c base.Client) error {
		target, err := o.resolver.Resolve(c, targetRole)
		if errors.Is(err, folders.ErrVirtualFolder) {
			return base.ValidationError{Reason: "cannot move messages into the starred view"}
		} else if err != nil {
			return err
		}

		seqset, err := o.selectOwning(c, folder, id, uid)
		if err != nil {
			return err
		}
		if err := c.UidCopy(seqset, target); err != nil {
			return errors.Wrapf(err, "copying to %q", target)
		}
		return o.deleteSelected(c, seqset)
	})
}

// Move is archive with a caller-chosen destination.
func (o *Operator) Move(folder string, id message.StableID, targetRole string) error {
	if targetRole == "" {
		return base.ValidationError{Reason: "target folder is required"}
	}
	return o.Archive(folder, id, targetRole)
}

// Delete flags the message deleted and expunges.
func (o *Operator) Delete(folder string, id message.StableID) error {
	uid, err := o.checkedUID(id)
	if err != nil {
		return err
	}
	return o.sessions.Retrieval(func(c base.Client) error {
		seqset, err := o.selectOwning(c, folder, id, uid)
		if err != nil {
			return err
		}
		return o.deleteSelected(c, seqset)
	})
}

// MarkRead sets the read flag.
func (o *Operator) MarkRead(folder string, id message.StableID) error {
	return o.storeFlag(folder, id, imap.AddFlags, imap.SeenFlag)
}

// MarkUnread clears the read flag.
func (o *Operator) MarkUnread(folder string, id message.StableID) error {
	return o.storeFlag(folder, id, imap.RemoveFlags, imap.SeenFlag)
}

func (o *Operator) storeFlag(folder string, id message.StableID, op imap.FlagsOp, flag string) error {
	uid, err := o.checkedUID(id)
	if err != nil {
		return err
	}
	return o.sessions.Retrieval(func(c base.Client) error {
		seqset, err := o.selectOwning(c, folder, id, uid)
		if err != nil {
			return err
		}
		item := imap.FormatFlagsOp(op, true)
		return errors.Wrap(c.UidStore(seqset, item, []interface{}{flag}, nil), "storing flags")
	})
}

func (o *Operator) checkedUID(id message.StableID) (uint32, error) {
	_, uid, err := id.Parse()
	if err != nil {
		return 0, base.ValidationError{Reason: err.Error()}
	}
	return uid, nil
}

// selectOwning selects folder read-write and verifies the stable identity
// still belongs to it.
func (o *Operator) selectOwning(c base.Client, folder string, id message.StableID, uid uint32) (*imap.SeqSet, error) {
	name, err := o.resolver.Resolve(c, folder)
	if errors.Is(err, folders.ErrVirtualFolder) {
		name = "INBOX"
	} else if err != nil {
		return nil, err
	}
	status, err := c.Select(name, false)
	if err != nil {
		return nil, errors.Wrapf(err, "selecting %q", name)
	}
	uidValidity, _, _ := id.Parse()
	if status.UidValidity != uidValidity {
		return nil, base.NotFoundError{Kind: "message", Target: string(id)}
	}
	var seqset imap.SeqSet
	seqset.AddNum(uid)
	return &seqset, nil
}

func (o *Operator) deleteSelected(c base.Client, seqset *imap.SeqSet) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return errors.Wrap(err, "flagging deleted")
	}
	return errors.Wrap(c.Expunge(nil), "expunging")
}

func (o *Operator) submit(to []string, subject, body string) error {
	msg, err := composeMessage(o.account.Address, to, subject, body)
	if err != nil {
		return err
	}
	c, err := o.sessions.Submission()
	if err != nil {
		return err
	}
	if err := c.SendMail(o.account.Address, to, msg); err != nil {
		// The session is suspect after a failed send.
		o.sessions.ResetSubmission()
		return errors.Wrap(err, "sending message")
	}
	return nil
}

// composeMessage renders a single-part plain-text message.
func composeMessage(from string, to []string, subject, body string) (io.Reader, error) {
	toList := make([]*mail.Address, len(to))
	for i, addr := range to {
		toList[i] = &mail.Address{Address: addr}
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", toList)
	h.SetSubject(subject)

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, errors.Wrap(err, "composing message")
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, errors.Wrap(err, "writing body")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing message writer")
	}
	return &buf, nil
}

// ReplySubject prefixes a reply marker unless one is already present.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// ForwardSubject prefixes a forward marker unless one is already present.
func ForwardSubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "fwd:") {
		return subject
	}
	return "Fwd: " + subject
}

// QuoteForward renders the original message inline for forwarding.
func QuoteForward(original message.Message) string {
	from := original.From
	if original.FromName != "" {
		from = fmt.Sprintf("%s <%s>", original.FromName, original.From)
	}
	return fmt.Sprintf(
		"---------- Forwarded message ----------\nFrom: %s\nDate: %s\nSubject: %s\n\n%s",
		from,
		original.Date.Format(time.RFC1123Z),
		original.Subject,
		original.Body,
	)
}
