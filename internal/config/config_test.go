package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		envAccount, envPassword, envProvider,
		envIMAPHost, envIMAPPort, envIMAPSSL,
		envSMTPHost, envSMTPPort, envSMTPSSL, envSMTPTLS,
		envAIURL, envAIKey, envAIModel,
	} {
		t.Setenv(name, "")
	}
}

func TestAccountFromEnvMissing(t *testing.T) {
	clearEnv(t)

	_, err := AccountFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required environment variables")
	assert.Contains(t, err.Error(), envAccount)
	assert.Contains(t, err.Error(), envIMAPHost)
}

func TestAccountFromEnvProviderPreset(t *testing.T) {
	clearEnv(t)
	t.Setenv(envAccount, "someone@qq.com")
	t.Setenv(envPassword, "authcode")
	t.Setenv(envProvider, "qq")

	acct, err := AccountFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "imap.qq.com:993", acct.IMAP.Addr())
	assert.Equal(t, "smtp.qq.com:465", acct.SMTP.Addr())
	assert.True(t, acct.IMAP.SSL)
	assert.True(t, acct.SMTP.SSL)
}

func TestAccountFromEnvOverridesPreset(t *testing.T) {
	clearEnv(t)
	t.Setenv(envAccount, "someone@example.com")
	t.Setenv(envPassword, "hunter2")
	t.Setenv(envProvider, "outlook")
	t.Setenv(envSMTPHost, "relay.internal")
	t.Setenv(envSMTPPort, "2525")
	t.Setenv(envSMTPTLS, "false")

	acct, err := AccountFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "outlook.office365.com", acct.IMAP.Host)
	assert.Equal(t, "relay.internal:2525", acct.SMTP.Addr())
	assert.False(t, acct.SMTP.StartTLS)
}

func TestAccountFromEnvBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv(envAccount, "someone@example.com")
	t.Setenv(envPassword, "hunter2")
	t.Setenv(envIMAPHost, "imap.example.com")
	t.Setenv(envSMTPHost, "smtp.example.com")
	t.Setenv(envIMAPPort, "not-a-port")

	_, err := AccountFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), envIMAPPort)
}

func TestAIFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(envAIKey, "sk-test")

	cfg, err := AIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", cfg.Model)
	assert.Contains(t, cfg.URL, "chat/completions")
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestAIFromEnvMissingKey(t *testing.T) {
	clearEnv(t)

	_, err := AIFromEnv()
	require.Error(t, err)
}

func TestProviderLookup(t *testing.T) {
	preset, ok := Provider(" Gmail ")
	require.True(t, ok)
	assert.Equal(t, "imap.gmail.com", preset.IMAP.Host)

	_, ok = Provider("aol")
	assert.False(t, ok)
}

func TestFolderRolesCandidates(t *testing.T) {
	roles := DefaultFolderRoles()
	assert.Equal(t, "Sent Messages", roles.Candidates("sent")[0])
	assert.Contains(t, roles.Candidates("trash"), "&XfJSIJZk-")
	assert.Equal(t, []string{"Personal/Receipts"}, roles.Candidates("Personal/Receipts"))
}

func TestLoadFolderRolesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folders.yaml")
	require.NoError(t, os.WriteFile(path, []byte("archive:\n  - AllMail\n"), 0o600))

	roles, err := LoadFolderRoles(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AllMail"}, roles["archive"])
	assert.Contains(t, roles.Candidates("sent"), "Sent")
}

func TestLoadFolderRolesInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folders.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid_yaml"), 0o600))

	_, err := LoadFolderRoles(path)
	require.Error(t, err)
}
