package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/openmined/cmissync/internal/client/sync"
)

type SyncHandler struct {
	folders Folders
}

func NewSyncHandler(folders Folders) *SyncHandler {
	return &SyncHandler{folders: folders}
}

// Status returns the pass state of every folder
//
//	GET /v1/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	syncStatus := h.folders.SyncStatus()
	if syncStatus == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, errors.New("sync not available"))
		return
	}

	managers := h.folders.Managers()
	folders := make([]SyncFolderStatus, 0, len(managers))
	for _, mgr := range managers {
		res := SyncFolderStatus{
			Folder: mgr.Name(),
			State:  string(sync.SyncStateIdle),
		}
		if status, ok := syncStatus.GetFolderStatus(mgr.Name()); ok {
			res.State = string(status.State)
			res.LastSummary = status.LastSummary
			res.ErrorCount = status.ErrorCount
			res.UpdatedAt = status.LastUpdated
			if status.LastError != nil {
				res.Error = status.LastError.Error()
			}
		}
		folders = append(folders, res)
	}

	c.JSON(http.StatusOK, SyncStatusResponse{
		Folders: folders,
		Syncing: syncStatus.GetSyncingFileCount(),
	})
}

// Conflicts lists the files whose local version was kept aside
//
//	GET /v1/sync/conflicts
func (h *SyncHandler) Conflicts(c *gin.Context) {
	syncStatus := h.folders.SyncStatus()
	if syncStatus == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, errors.New("sync not available"))
		return
	}

	conflicted := syncStatus.GetConflictedFiles()
	files := make([]SyncFileStatus, 0, len(conflicted))
	for path, status := range conflicted {
		files = append(files, fileStatus(path, status))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	c.JSON(http.StatusOK, SyncConflictsResponse{Files: files})
}

// Events streams pass and transfer events as server-sent events
//
//	GET /v1/sync/events
func (h *SyncHandler) Events(c *gin.Context) {
	syncStatus := h.folders.SyncStatus()
	if syncStatus == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, errors.New("sync not available"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	eventCh := syncStatus.Subscribe()
	defer syncStatus.Unsubscribe(eventCh)

	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-eventCh:
			if !ok {
				return false
			}

			data := SyncEvent{
				Kind:    string(event.Kind),
				Folder:  event.Folder,
				Summary: event.Summary,
			}
			if event.Err != nil {
				data.Error = event.Err.Error()
			}
			if event.Status != nil {
				file := fileStatus(event.Path, event.Status)
				data.File = &file
			}

			c.SSEvent("sync", data)
			return true
		}
	})
}

// TriggerSync asks every folder, or the one named by ?folder=, for a pass now
//
//	POST /v1/sync/now
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	name := c.Query("folder")

	var triggered []string
	for _, mgr := range h.folders.Managers() {
		if name != "" && mgr.Name() != name {
			continue
		}
		mgr.TriggerSync()
		triggered = append(triggered, mgr.Name())
	}

	if len(triggered) == 0 {
		AbortWithError(c, http.StatusNotFound, ErrCodeFolderNotFound, fmt.Errorf("no folder named %q", name))
		return
	}

	c.JSON(http.StatusAccepted, SyncTriggerResponse{
		Code:    CodeOk,
		Folders: triggered,
	})
}
