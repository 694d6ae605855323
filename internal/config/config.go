package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envAccount  = "MAILAGENT_ACCOUNT"
	envPassword = "MAILAGENT_PASSWORD"
	envIMAPHost = "MAILAGENT_IMAP_HOST"
	envIMAPPort = "MAILAGENT_IMAP_PORT"
	envIMAPSSL  = "MAILAGENT_IMAP_SSL"
	envSMTPHost = "MAILAGENT_SMTP_HOST"
	envSMTPPort = "MAILAGENT_SMTP_PORT"
	envSMTPSSL  = "MAILAGENT_SMTP_SSL"
	envSMTPTLS  = "MAILAGENT_SMTP_STARTTLS"
	envProvider = "MAILAGENT_PROVIDER"
	envAIURL    = "MAILAGENT_AI_URL"
	envAIKey    = "MAILAGENT_AI_KEY"
	envAIModel  = "MAILAGENT_AI_MODEL"
)

// Endpoint describes one protocol endpoint of an account.
type Endpoint struct {
	Host     string
	Port     int
	SSL      bool
	StartTLS bool
}

// Addr returns the host:port dial address.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Account holds the credentials and endpoints for one mailbox account.
// It is immutable once loaded and owned by the account's session manager.
type Account struct {
	Address  string
	Password string
	IMAP     Endpoint
	SMTP     Endpoint
}

// AI holds the text-generation collaborator settings.
type AI struct {
	URL        string
	Key        string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Provider presets for well-known mail services. A preset fills endpoint
// fields the environment leaves unset.
var providers = map[string]Account{
	"gmail": {
		IMAP: Endpoint{Host: "imap.gmail.com", Port: 993, SSL: true},
		SMTP: Endpoint{Host: "smtp.gmail.com", Port: 465, SSL: true},
	},
	"outlook": {
		IMAP: Endpoint{Host: "outlook.office365.com", Port: 993, SSL: true},
		SMTP: Endpoint{Host: "smtp.office365.com", Port: 587, StartTLS: true},
	},
	"qq": {
		IMAP: Endpoint{Host: "imap.qq.com", Port: 993, SSL: true},
		SMTP: Endpoint{Host: "smtp.qq.com", Port: 465, SSL: true},
	},
	"163": {
		IMAP: Endpoint{Host: "imap.163.com", Port: 993, SSL: true},
		SMTP: Endpoint{Host: "smtp.163.com", Port: 465, SSL: true},
	},
}

// Provider returns the endpoint preset for a known mail service.
func Provider(name string) (Account, bool) {
	preset, ok := providers[strings.ToLower(strings.TrimSpace(name))]
	return preset, ok
}

// AccountFromEnv loads account credentials and endpoints from environment
// variables, applying the MAILAGENT_PROVIDER preset for endpoint fields the
// environment leaves unset.
func AccountFromEnv() (Account, error) {
	acct := Account{
		Address:  strings.TrimSpace(os.Getenv(envAccount)),
		Password: os.Getenv(envPassword),
	}

	if preset, ok := Provider(os.Getenv(envProvider)); ok {
		acct.IMAP = preset.IMAP
		acct.SMTP = preset.SMTP
	}

	if host := strings.TrimSpace(os.Getenv(envIMAPHost)); host != "" {
		acct.IMAP.Host = host
	}
	if host := strings.TrimSpace(os.Getenv(envSMTPHost)); host != "" {
		acct.SMTP.Host = host
	}
	var err error
	if acct.IMAP.Port, err = portFromEnv(envIMAPPort, acct.IMAP.Port, 993); err != nil {
		return Account{}, err
	}
	if acct.SMTP.Port, err = portFromEnv(envSMTPPort, acct.SMTP.Port, 465); err != nil {
		return Account{}, err
	}
	// IMAP defaults to implicit TLS; every supported provider requires it.
	acct.IMAP.SSL = boolFromEnv(envIMAPSSL, true)
	acct.SMTP.SSL = boolFromEnv(envSMTPSSL, acct.SMTP.SSL)
	acct.SMTP.StartTLS = boolFromEnv(envSMTPTLS, acct.SMTP.StartTLS)

	missing := []string{}
	if acct.Address == "" {
		missing = append(missing, envAccount)
	}
	if acct.Password == "" {
		missing = append(missing, envPassword)
	}
	if acct.IMAP.Host == "" {
		missing = append(missing, envIMAPHost)
	}
	if acct.SMTP.Host == "" {
		missing = append(missing, envSMTPHost)
	}
	if len(missing) > 0 {
		return Account{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return acct, nil
}

// AIFromEnv loads the text-generation collaborator settings. Only the API key
// is required; URL and model default to the DeepSeek chat-completions API.
func AIFromEnv() (AI, error) {
	cfg := AI{
		URL:        defaultIfEmpty(os.Getenv(envAIURL), "https://api.deepseek.com/v1/chat/completions"),
		Key:        strings.TrimSpace(os.Getenv(envAIKey)),
		Model:      defaultIfEmpty(os.Getenv(envAIModel), "deepseek-chat"),
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
	if cfg.Key == "" {
		return AI{}, fmt.Errorf("missing required environment variable: %s", envAIKey)
	}
	return cfg, nil
}

func portFromEnv(name string, preset, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		if preset != 0 {
			return preset, nil
		}
		return fallback, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return port, nil
}

func boolFromEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return strings.EqualFold(raw, "true") || raw == "1"
}

func defaultIfEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// FolderRoles maps a semantic folder role to its ordered candidate names:
// exact provider strings first, then UTF-7 encoded alternates and localized
// names. Static data; extend via LoadFolderRoles rather than code.
type FolderRoles map[string][]string

// DefaultFolderRoles covers the QQ, 163, Gmail and Outlook naming schemes.
func DefaultFolderRoles() FolderRoles {
	return FolderRoles{
		"sent":    {"Sent Messages", "&XfJT0ZAB-", "已发送", "Sent"},
		"drafts":  {"Drafts", "&g0l6P3ux-", "草稿箱", "Draft"},
		"spam":    {"Junk", "&V4NXPpCuTvY-", "垃圾邮件", "Spam"},
		"trash":   {"Deleted Messages", "&XfJSIJZk-", "已删除", "Trash"},
		"archive": {"Archive", "&dcVr0mWHTvZZOQ-", "归档"},
		"starred": {"Starred", "星标邮件", "Flagged"},
	}
}

// LoadFolderRoles reads role candidate overrides from a YAML file and merges
// them over the defaults. Roles present in the file replace the default list
// for that role; absent roles keep their defaults.
func LoadFolderRoles(path string) (FolderRoles, error) {
	roles := DefaultFolderRoles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var overrides map[string][]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, err
	}
	for role, candidates := range overrides {
		roles[strings.ToLower(role)] = candidates
	}
	return roles, nil
}

// Candidates returns the candidate names for a role, falling back to the
// literal role string when the role is unknown.
func (r FolderRoles) Candidates(role string) []string {
	if names, ok := r[strings.ToLower(role)]; ok {
		return names
	}
	return []string{role}
}
