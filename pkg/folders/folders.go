// Package folders resolves semantic folder names ("sent", "trash", "垃圾邮件")
// to the mailbox names a server actually advertises. Providers disagree
// wildly here: localized names, UTF-7 encodings, and "Junk" vs "Spam" all
// mean the same role.
package folders

import (
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/internal/config"
	"github.com/lLiuRunze/mail-agent/pkg/base"
)

// ErrVirtualFolder marks a role that has no server-side mailbox. The starred
// view is served by filtering the inbox on the \Flagged flag instead.
var ErrVirtualFolder = errors.New("virtual folder")

// Resolver matches folder roles against the server's mailbox list.
type Resolver struct {
	roles  config.FolderRoles
	logger *slog.Logger
}

type ResolverOption func(*Resolver)

func WithRoles(roles config.FolderRoles) ResolverOption {
	return func(r *Resolver) { r.roles = roles }
}

func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

func NewResolver(opts ...ResolverOption) (*Resolver, error) {
	var r Resolver
	for _, opt := range opts {
		opt(&r)
	}
	if r.logger == nil {
		return nil, errors.New("logger is required")
	}
	if r.roles == nil {
		r.roles = config.DefaultFolderRoles()
	}
	return &r, nil
}

// Resolve maps a role or folder name to a selectable mailbox name.
//
// The inbox is special-cased without a LIST round trip; the starred role
// returns ErrVirtualFolder. Everything else is matched against the server's
// mailbox list tier by tier: every candidate is tried at one tier before any
// candidate is tried at the next, so an exact hit on a late candidate beats
// a substring hit on an early one. When no candidate matches and the name is
// not itself an advertised mailbox, the result is NotFound.
func (r *Resolver) Resolve(c base.Client, name string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(name), "inbox") {
		return "INBOX", nil
	}
	if strings.EqualFold(strings.TrimSpace(name), "starred") {
		return "", ErrVirtualFolder
	}

	available, err := listMailboxes(c)
	if err != nil {
		return "", errors.Wrap(err, "listing mailboxes")
	}

	if matched, ok := matchMailbox(r.roles.Candidates(name), available); ok {
		if matched != name {
			r.logger.Debug("resolved folder",
				slog.String("requested", name),
				slog.String("mailbox", matched),
			)
		}
		return matched, nil
	}
	for _, mbox := range available {
		if mbox == name {
			return name, nil
		}
	}

	r.logger.Warn("no mailbox matched",
		slog.String("requested", name),
		slog.String("available", strings.Join(available, ", ")),
	)
	return "", base.NotFoundError{Kind: "folder", Target: name}
}

func listMailboxes(c base.Client) ([]string, error) {
	ch := make(chan *imap.MailboxInfo, 64)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()

	var names []string
	for mbox := range ch {
		names = append(names, mbox.Name)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return names, nil
}

// matchMailbox runs three passes over the whole candidate list: exact, then
// case-insensitive, then substring in either direction.
func matchMailbox(candidates, available []string) (string, bool) {
	for _, candidate := range candidates {
		for _, name := range available {
			if name == candidate {
				return name, true
			}
		}
	}
	for _, candidate := range candidates {
		for _, name := range available {
			if strings.EqualFold(name, candidate) {
				return name, true
			}
		}
	}
	for _, candidate := range candidates {
		lower := strings.ToLower(candidate)
		for _, name := range available {
			nameLower := strings.ToLower(name)
			if strings.Contains(nameLower, lower) || strings.Contains(lower, nameLower) {
				return name, true
			}
		}
	}
	return "", false
}
