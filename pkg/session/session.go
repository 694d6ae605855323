// Package session owns the IMAP and SMTP connections for one account. It
// lazily dials, health-checks before reuse, and retries retrieval work once
// over a fresh connection when the link drops mid-operation.
package session

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/internal/config"
	"github.com/lLiuRunze/mail-agent/pkg/base"
	"github.com/lLiuRunze/mail-agent/pkg/utils"
)

const (
	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// Manager hands out live protocol sessions for a single account.
type Manager interface {
	EnsureIMAP() (base.Client, error)
	Retrieval(fn func(c base.Client) error) error
	Submission() (base.SubmissionClient, error)
	ResetSubmission()
	Disconnect()
}

// ManagerImpl implements Manager over go-imap and go-smtp clients.
type ManagerImpl struct {
	account config.Account
	logger  *slog.Logger

	dialIMAP func(config.Account) (base.Client, error)
	dialSMTP func(config.Account) (base.SubmissionClient, error)

	mu         sync.Mutex
	imapClient base.Client
	imapState  base.ConnectionState
	smtpClient base.SubmissionClient
}

type ManagerOption func(*ManagerImpl)

func WithAccount(acct config.Account) ManagerOption {
	return func(m *ManagerImpl) { m.account = acct }
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *ManagerImpl) { m.logger = logger }
}

// WithIMAPDialer overrides how IMAP sessions are established. Tests use this
// to hand the manager a mock client.
func WithIMAPDialer(dial func(config.Account) (base.Client, error)) ManagerOption {
	return func(m *ManagerImpl) { m.dialIMAP = dial }
}

// WithSMTPDialer overrides how SMTP sessions are established.
func WithSMTPDialer(dial func(config.Account) (base.SubmissionClient, error)) ManagerOption {
	return func(m *ManagerImpl) { m.dialSMTP = dial }
}

func NewManager(opts ...ManagerOption) (*ManagerImpl, error) {
	var m ManagerImpl
	for _, opt := range opts {
		opt(&m)
	}
	if m.account.Address == "" {
		return nil, errors.New("account is required")
	}
	if m.logger == nil {
		return nil, errors.New("logger is required")
	}
	if m.dialIMAP == nil {
		m.dialIMAP = dialIMAP
	}
	if m.dialSMTP == nil {
		m.dialSMTP = dialSMTP
	}
	return &m, nil
}

// dialIMAP opens a TLS IMAP session, logs in, and announces the client
// identity. Some providers (notably 163 and QQ) reject unidentified clients
// with an unsafe-login error, so the ID handshake is not optional there; it
// is still best-effort because it only exists on a real client.
func dialIMAP(acct config.Account) (base.Client, error) {
	c, err := client.DialTLS(acct.IMAP.Addr(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dialing IMAP")
	}
	if err := c.Login(acct.Address, acct.Password); err != nil {
		_ = c.Logout()
		return nil, base.AuthError{Protocol: "imap", Err: err}
	}
	idClient := id.NewClient(c)
	if ok, _ := idClient.SupportID(); ok {
		_, _ = idClient.ID(id.ID{
			"name":    "mail-agent",
			"version": "1.0.0",
		})
	}
	return c, nil
}

// dialSMTP opens an SMTP session, upgrading with STARTTLS when the endpoint
// asks for it, and authenticates with SASL PLAIN.
func dialSMTP(acct config.Account) (base.SubmissionClient, error) {
	var (
		c   *smtp.Client
		err error
	)
	if acct.SMTP.SSL {
		c, err = smtp.DialTLS(acct.SMTP.Addr(), nil)
	} else if acct.SMTP.StartTLS {
		c, err = smtp.DialStartTLS(acct.SMTP.Addr(), &tls.Config{ServerName: acct.SMTP.Host})
	} else {
		c, err = smtp.Dial(acct.SMTP.Addr())
	}
	if err != nil {
		return nil, errors.Wrap(err, "dialing SMTP")
	}
	if err := c.Auth(sasl.NewPlainClient("", acct.Address, acct.Password)); err != nil {
		_ = c.Close()
		return nil, base.AuthError{Protocol: "smtp", Err: err}
	}
	return c, nil
}

// EnsureIMAP returns a live IMAP client, reconnecting if the current session
// fails a NOOP health check.
func (m *ManagerImpl) EnsureIMAP() (base.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureIMAPLocked()
}

func (m *ManagerImpl) ensureIMAPLocked() (base.Client, error) {
	if m.imapClient != nil && m.imapState == base.StateConnected {
		if err := m.imapClient.Noop(); err == nil && m.imapClient.State() != imap.LogoutState {
			return m.imapClient, nil
		}
		m.logger.Info("imap health check failed, reconnecting", slog.String("account", m.account.Address))
		m.disconnectIMAPLocked()
	}

	c, err := m.dialIMAP(m.account)
	if err != nil {
		m.imapState = base.StateBroken
		return nil, err
	}
	m.imapClient = c
	m.imapState = base.StateConnected
	m.logger.Info("imap session established",
		slog.String("account", m.account.Address),
		slog.String("host", m.account.IMAP.Host),
	)
	return c, nil
}

// Retrieval runs fn against a live IMAP client. When fn fails with a
// transient connection error, the session is torn down and fn is retried on
// a fresh connection, up to maxRetries times with capped backoff. Auth and
// domain errors surface immediately.
func (m *ManagerImpl) Retrieval(fn func(c base.Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			m.disconnectIMAPLocked()
			time.Sleep(retryBackoff * time.Duration(attempt))
			m.logger.Warn("retrying mailbox operation",
				slog.Int("attempt", attempt),
				slog.Any("error", utils.WrapError(lastErr)),
			)
		}
		c, err := m.ensureIMAPLocked()
		if err != nil {
			lastErr = err
			if !base.IsTransient(err) {
				return err
			}
			continue
		}
		err = fn(c)
		if err == nil {
			return nil
		}
		lastErr = err
		if !base.IsTransient(err) {
			return err
		}
		m.imapState = base.StateBroken
	}
	return errors.Wrap(lastErr, fmt.Sprintf("mailbox operation failed after %d retries", maxRetries))
}

// Submission returns a live SMTP client, dialing one if needed. The session
// is verified with a NOOP before reuse.
func (m *ManagerImpl) Submission() (base.SubmissionClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.smtpClient != nil {
		if err := m.smtpClient.Noop(); err == nil {
			return m.smtpClient, nil
		}
		m.logger.Info("smtp health check failed, reconnecting", slog.String("account", m.account.Address))
		_ = m.smtpClient.Close()
		m.smtpClient = nil
	}

	c, err := m.dialSMTP(m.account)
	if err != nil {
		return nil, err
	}
	m.smtpClient = c
	return c, nil
}

// ResetSubmission drops the current SMTP session so the next Submission call
// dials fresh. Bulk forwarding uses this between recipients; some providers
// refuse a second send on the same session.
func (m *ManagerImpl) ResetSubmission() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.smtpClient != nil {
		_ = m.smtpClient.Quit()
		m.smtpClient = nil
	}
}

// Disconnect tears down both protocol sessions.
func (m *ManagerImpl) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectIMAPLocked()
	if m.smtpClient != nil {
		_ = m.smtpClient.Quit()
		m.smtpClient = nil
	}
}

func (m *ManagerImpl) disconnectIMAPLocked() {
	if m.imapClient != nil {
		if err := m.imapClient.Logout(); err != nil {
			m.logger.Debug("imap logout failed", slog.Any("error", utils.WrapError(err)))
		}
		m.imapClient = nil
	}
	m.imapState = base.StateDisconnected
}
