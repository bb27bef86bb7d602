package sync

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PathResult is a noteworthy per-path result of a pass
type PathResult struct {
	Path       string  `json:"path" yaml:"path"`
	Outcome    Outcome `json:"outcome" yaml:"outcome"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
	BackupPath string  `json:"backupPath,omitempty" yaml:"backupPath,omitempty"`
}

// PassSummary aggregates the outcomes of one synchronization pass
type PassSummary struct {
	ID         string          `json:"id" yaml:"id"`
	Folder     string          `json:"folder" yaml:"folder"`
	Strategies []Strategy      `json:"strategies" yaml:"strategies"`
	Started    time.Time       `json:"started" yaml:"started"`
	Finished   time.Time       `json:"finished" yaml:"finished"`
	Counts     map[Outcome]int `json:"counts" yaml:"counts"`
	Failures   []PathResult    `json:"failures,omitempty" yaml:"failures,omitempty"`
	Conflicts  []PathResult    `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

func newPassSummary(folder string, started time.Time) *PassSummary {
	return &PassSummary{
		ID:      uuid.NewString(),
		Folder:  folder,
		Started: started,
		Counts:  make(map[Outcome]int),
	}
}

// Record counts one outcome. Failures keep their error for reporting.
func (s *PassSummary) Record(path string, outcome Outcome, err error) {
	s.Counts[outcome]++
	if outcome == OutcomeFailed {
		res := PathResult{Path: path, Outcome: outcome}
		if err != nil {
			res.Error = err.Error()
		}
		s.Failures = append(s.Failures, res)
	}
}

// noteConflict remembers where the local version of path was moved. The
// conflict itself is counted by Record.
func (s *PassSummary) noteConflict(path, backupPath string) {
	s.Conflicts = append(s.Conflicts, PathResult{Path: path, Outcome: OutcomeConflict, BackupPath: backupPath})
}

func (s *PassSummary) addStrategy(strategy Strategy) {
	s.Strategies = append(s.Strategies, strategy)
}

func (s *PassSummary) Count(outcome Outcome) int {
	return s.Counts[outcome]
}

// HasChanges reports whether anything was transferred or deleted
func (s *PassSummary) HasChanges() bool {
	for outcome, n := range s.Counts {
		if n > 0 && outcome.IsTransfer() {
			return true
		}
	}
	return false
}

func (s *PassSummary) Failed() bool {
	return s.Counts[OutcomeFailed] > 0
}

func (s *PassSummary) Duration() time.Duration {
	if s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

func (s *PassSummary) String() string {
	outcomes := make([]string, 0, len(s.Counts))
	for outcome := range s.Counts {
		outcomes = append(outcomes, string(outcome))
	}
	slices.Sort(outcomes)

	parts := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		if n := s.Counts[Outcome(outcome)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", outcome, n))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no changes")
	}
	return fmt.Sprintf("%s [%s] %s", s.Folder, strings.Join(parts, " "), s.Duration().Round(time.Millisecond))
}
