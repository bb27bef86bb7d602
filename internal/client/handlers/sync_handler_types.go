package handlers

import (
	"time"

	"github.com/openmined/cmissync/internal/client/sync"
)

type SyncFolderStatus struct {
	Folder      string            `json:"folder"`
	State       string            `json:"state"`
	LastSummary *sync.PassSummary `json:"lastSummary,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorCount  int               `json:"errorCount,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type SyncFileStatus struct {
	Path          string    `json:"path"`
	State         string    `json:"state"`
	ConflictState string    `json:"conflictState,omitempty"`
	Progress      float64   `json:"progress"`
	BackupPath    string    `json:"backupPath,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type SyncStatusResponse struct {
	Folders []SyncFolderStatus `json:"folders"`
	Syncing int                `json:"syncing"`
}

type SyncConflictsResponse struct {
	Files []SyncFileStatus `json:"files"`
}

type SyncTriggerResponse struct {
	Code    string   `json:"code"`
	Folders []string `json:"folders"`
}

// SyncEvent is one server-sent event of /v1/sync/events
type SyncEvent struct {
	Kind    string            `json:"kind"`
	Folder  string            `json:"folder,omitempty"`
	Error   string            `json:"error,omitempty"`
	Summary *sync.PassSummary `json:"summary,omitempty"`
	File    *SyncFileStatus   `json:"file,omitempty"`
}

func fileStatus(path string, status *sync.PathStatus) SyncFileStatus {
	return SyncFileStatus{
		Path:          path,
		State:         string(status.SyncState),
		ConflictState: string(status.ConflictState),
		Progress:      status.Progress,
		BackupPath:    status.BackupPath,
		UpdatedAt:     status.LastUpdated,
	}
}
