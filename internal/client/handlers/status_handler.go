package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/cmissync/internal/client/sync"
	"github.com/openmined/cmissync/internal/version"
)

// StatusHandler handles status-related endpoints
type StatusHandler struct {
	folders   Folders
	startedAt time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(folders Folders) *StatusHandler {
	return &StatusHandler{
		folders:   folders,
		startedAt: time.Now(),
	}
}

// Status returns the version of the daemon and the cache state of every folder
//
//	GET /v1/status
func (h *StatusHandler) Status(ctx *gin.Context) {
	// this is unlikely to happen, but just in case
	if h.folders == nil {
		AbortWithError(ctx, http.StatusServiceUnavailable, ErrCodeNotReady, errors.New("client not initialized"))
		return
	}

	managers := h.folders.Managers()
	folders := make([]*sync.MappingStatus, 0, len(managers))
	for _, mgr := range managers {
		status, err := mgr.Status()
		if err != nil {
			AbortWithError(ctx, http.StatusInternalServerError, ErrCodeStatusFailed, fmt.Errorf("%s: %w", mgr.Name(), err))
			return
		}
		folders = append(folders, status)
	}

	ctx.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		StartedAt: h.startedAt.UTC().Format(time.RFC3339),
		Runtime:   runtimeStats(),
		Folders:   folders,
	})
}
