package sync

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	progressMin         = 0.0
	progressMax         = 100.0
	syncEventBufferSize = 16
)

// ActivityListener is told about pass boundaries, transfers and conflicts.
// Calls come from the pass goroutine and must not block.
type ActivityListener interface {
	SyncStarted(folder string)
	SyncFinished(folder string, summary *PassSummary, err error)
	ConflictDetected(path, backupPath string)
	TransferProgress(path string, done, total int64)
}

// NopListener ignores all activity
type NopListener struct{}

func (NopListener) SyncStarted(string)                      {}
func (NopListener) SyncFinished(string, *PassSummary, error) {}
func (NopListener) ConflictDetected(string, string)         {}
func (NopListener) TransferProgress(string, int64, int64)   {}

// SyncState represents the state of a folder or a transfer
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateError     SyncState = "error"
)

// ConflictState represents the condition of a file
type ConflictState string

const (
	ConflictStateNone       ConflictState = "none"
	ConflictStateConflicted ConflictState = "conflicted"
)

// FolderStatus is the pass state of one mapping
type FolderStatus struct {
	State       SyncState
	LastSummary *PassSummary
	LastError   error
	ErrorCount  int
	LastUpdated time.Time
}

// PathStatus is the transfer state of one local path
type PathStatus struct {
	SyncState     SyncState
	ConflictState ConflictState
	Progress      float64
	BackupPath    string
	LastUpdated   time.Time
}

func (s *PathStatus) String() string {
	return fmt.Sprintf("SyncState: %s, ConflictState: %s, Progress: %f, BackupPath: %s", s.SyncState, s.ConflictState, s.Progress, s.BackupPath)
}

type SyncEventKind string

const (
	EventSyncStarted  SyncEventKind = "sync_started"
	EventSyncFinished SyncEventKind = "sync_finished"
	EventConflict     SyncEventKind = "conflict"
	EventProgress     SyncEventKind = "progress"
)

// SyncStatusEvent represents a status change event for broadcasting
type SyncStatusEvent struct {
	Kind    SyncEventKind
	Folder  string
	Path    string
	Summary *PassSummary
	Status  *PathStatus
	Err     error
}

// SyncStatus is an ActivityListener that keeps the latest folder and path
// states and fans every change out to subscribers
type SyncStatus struct {
	folders map[string]*FolderStatus
	files   map[string]*PathStatus
	mu      sync.RWMutex

	eventSubs []chan *SyncStatusEvent
	eventMu   sync.RWMutex
}

var _ ActivityListener = (*SyncStatus)(nil)

func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		folders:   make(map[string]*FolderStatus),
		files:     make(map[string]*PathStatus),
		eventSubs: make([]chan *SyncStatusEvent, 0),
	}
}

// Subscribe returns a channel for receiving sync status events
func (s *SyncStatus) Subscribe() <-chan *SyncStatusEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *SyncStatusEvent, syncEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

// Unsubscribe removes a subscription channel
func (s *SyncStatus) Unsubscribe(ch <-chan *SyncStatusEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *SyncStatus) broadcastEvent(event *SyncStatusEvent) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// Channel is full, skip to avoid blocking
		}
	}
}

func (s *SyncStatus) getOrCreateFolder(folder string) *FolderStatus {
	if status, ok := s.folders[folder]; ok {
		return status
	}
	status := &FolderStatus{State: SyncStateIdle, LastUpdated: time.Now()}
	s.folders[folder] = status
	return status
}

func (s *SyncStatus) getOrCreateStatus(path string) *PathStatus {
	if status, exists := s.files[path]; exists {
		return status
	}

	status := &PathStatus{
		SyncState:     SyncStateIdle,
		ConflictState: ConflictStateNone,
		Progress:      progressMin,
		LastUpdated:   time.Now(),
	}
	s.files[path] = status
	return status
}

func (s *SyncStatus) SyncStarted(folder string) {
	s.mu.Lock()
	status := s.getOrCreateFolder(folder)
	status.State = SyncStateSyncing
	status.LastUpdated = time.Now()
	s.mu.Unlock()

	s.broadcastEvent(&SyncStatusEvent{Kind: EventSyncStarted, Folder: folder})
}

func (s *SyncStatus) SyncFinished(folder string, summary *PassSummary, err error) {
	s.mu.Lock()
	status := s.getOrCreateFolder(folder)
	status.LastSummary = summary
	status.LastError = err
	status.LastUpdated = time.Now()
	if err != nil {
		status.State = SyncStateError
		status.ErrorCount++
		if status.ErrorCount > 1 {
			slog.Warn("sync", "folder", folder, "status", "Error", "count", status.ErrorCount, "error", err)
		}
	} else {
		status.State = SyncStateCompleted
		status.ErrorCount = 0
	}
	s.mu.Unlock()

	s.broadcastEvent(&SyncStatusEvent{Kind: EventSyncFinished, Folder: folder, Summary: summary, Err: err})
}

// ConflictDetected marks path as conflicted; the mark is kept until Cleanup
// is asked to drop conflicts
func (s *SyncStatus) ConflictDetected(path, backupPath string) {
	s.mu.Lock()
	status := s.getOrCreateStatus(path)
	status.SyncState = SyncStateCompleted
	status.ConflictState = ConflictStateConflicted
	status.BackupPath = backupPath
	status.Progress = progressMax
	status.LastUpdated = time.Now()
	statusCopy := *status
	s.mu.Unlock()

	s.broadcastEvent(&SyncStatusEvent{Kind: EventConflict, Path: path, Status: &statusCopy})
}

// TransferProgress updates the progress of a transfer. A finished transfer of
// a clean file is removed from tracking.
func (s *SyncStatus) TransferProgress(path string, done, total int64) {
	s.mu.Lock()
	status := s.getOrCreateStatus(path)
	status.SyncState = SyncStateSyncing
	if total > 0 {
		status.Progress = float64(done) / float64(total) * progressMax
	}
	if total <= 0 || done >= total {
		status.SyncState = SyncStateCompleted
		status.Progress = progressMax
	}
	status.LastUpdated = time.Now()
	statusCopy := *status
	if status.SyncState == SyncStateCompleted && status.ConflictState == ConflictStateNone {
		delete(s.files, path)
	}
	s.mu.Unlock()

	s.broadcastEvent(&SyncStatusEvent{Kind: EventProgress, Path: path, Status: &statusCopy})
}

// GetFolderStatus returns a copy of the state of a mapping
func (s *SyncStatus) GetFolderStatus(folder string) (*FolderStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.folders[folder]
	if !ok {
		return nil, false
	}
	statusCopy := *status
	return &statusCopy, true
}

// GetStatus returns the status of a specific file
func (s *SyncStatus) GetStatus(path string) (*PathStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, exists := s.files[path]
	if !exists {
		return nil, false
	}
	statusCopy := *status
	return &statusCopy, true
}

// GetConflictedFiles returns a map of all conflicted files
func (s *SyncStatus) GetConflictedFiles() map[string]*PathStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conflicted := make(map[string]*PathStatus)
	for path, status := range s.files {
		if status.ConflictState == ConflictStateConflicted {
			statusCopy := *status
			conflicted[path] = &statusCopy
		}
	}
	return conflicted
}

// GetSyncingFileCount returns the number of files currently transferring
func (s *SyncStatus) GetSyncingFileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, status := range s.files {
		if status.SyncState == SyncStateSyncing {
			count++
		}
	}
	return count
}

// Cleanup removes path entries older than maxAge. Conflicts are only dropped
// when includeConflicts is set.
func (s *SyncStatus) Cleanup(maxAge time.Duration, includeConflicts bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for path, status := range s.files {
		if !status.LastUpdated.Before(cutoff) {
			continue
		}
		if status.ConflictState == ConflictStateConflicted && !includeConflicts {
			continue
		}
		delete(s.files, path)
	}
}

func (s *SyncStatus) Close() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for _, sub := range s.eventSubs {
		close(sub)
	}

	s.eventSubs = make([]chan *SyncStatusEvent, 0)

	s.mu.Lock()
	s.files = make(map[string]*PathStatus)
	s.mu.Unlock()
}
