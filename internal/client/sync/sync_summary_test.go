package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPassSummary(t *testing.T) {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newPassSummary("docs", started)
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.HasChanges())
	assert.Equal(t, "docs [no changes] 0s", s.String())

	s.Record("a.txt", OutcomeUnchanged, nil)
	s.Record("b.txt", OutcomeSkipped, nil)
	assert.False(t, s.HasChanges())

	s.Record("c.txt", OutcomeDownloaded, nil)
	s.Record("d.txt", OutcomeConflict, nil)
	s.noteConflict("d.txt", "/local/d_admin-version.txt")
	s.Record("e.txt", OutcomeFailed, errors.New("permission denied"))
	s.Finished = started.Add(1500 * time.Millisecond)

	assert.True(t, s.HasChanges())
	assert.True(t, s.Failed())
	assert.Equal(t, 1, s.Count(OutcomeConflict))
	assert.Equal(t, 1500*time.Millisecond, s.Duration())
	assert.Equal(t, "docs [Conflict=1 Downloaded=1 Failed=1 Skipped=1 Unchanged=1] 1.5s", s.String())

	require.Len(t, s.Failures, 1)
	assert.Equal(t, PathResult{Path: "e.txt", Outcome: OutcomeFailed, Error: "permission denied"}, s.Failures[0])
	require.Len(t, s.Conflicts, 1)
	assert.Equal(t, "/local/d_admin-version.txt", s.Conflicts[0].BackupPath)
}

func TestPassSummary_YAML(t *testing.T) {
	s := newPassSummary("docs", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s.addStrategy(StrategyChangeLog)
	s.Record("e.txt", OutcomeFailed, errors.New("boom"))

	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "folder: docs")
	assert.Contains(t, string(out), "- ChangeLog")
	assert.Contains(t, string(out), "error: boom")
	assert.NotContains(t, string(out), "conflicts")
}

func TestOutcome_IsTransfer(t *testing.T) {
	for _, o := range []Outcome{OutcomeDownloaded, OutcomeUploaded, OutcomeUpdated, OutcomeDeletedLocal, OutcomeDeletedRemote, OutcomeConflict} {
		assert.True(t, o.IsTransfer(), o)
	}
	for _, o := range []Outcome{OutcomeSkipped, OutcomeFailed, OutcomeUnchanged} {
		assert.False(t, o.IsTransfer(), o)
	}
}
