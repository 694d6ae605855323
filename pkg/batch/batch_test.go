package batch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lLiuRunze/mail-agent/pkg/mock"
)

func TestRunIsolatesFailures(t *testing.T) {
	calls := []string{}
	report := Run(mock.SetupLogger(t), []string{"a", "b", "c"}, func(target string) error {
		calls = append(calls, target)
		if target == "b" {
			return errors.New("flag store rejected")
		}
		return nil
	})

	// Every target runs even when one fails.
	assert.Equal(t, []string{"a", "b", "c"}, calls)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Success)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Ok())

	assert.Equal(t, "ok", report.Results[0].Status)
	assert.Equal(t, "b", report.Results[1].Target)
	assert.Contains(t, report.Results[1].Status, "rejected")
	assert.Equal(t, "ok", report.Results[2].Status)
}

func TestRunPreservesInputOrder(t *testing.T) {
	targets := []string{"3", "1", "2"}
	report := Run(mock.SetupLogger(t), targets, func(string) error { return nil })

	for i, res := range report.Results {
		assert.Equal(t, targets[i], res.Target)
	}
	assert.True(t, report.Ok())
}

func TestEmptyRunIsNotOk(t *testing.T) {
	report := Run(mock.SetupLogger(t), nil, func(string) error { return nil })
	assert.Equal(t, 0, report.Total)
	assert.False(t, report.Ok())
}

func TestSummary(t *testing.T) {
	report := Report{Total: 5, Success: 4, Failed: 1}
	assert.Equal(t, "archived 4 of 5 messages (1 failed)", report.Summary("archived"))
}
