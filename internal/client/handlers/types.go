package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/openmined/cmissync/internal/client/sync"
)

const (
	CodeOk                string = "OK"
	ErrCodeBadRequest     string = "ERR_BAD_REQUEST"
	ErrCodeUnknownError   string = "ERR_UNKNOWN_ERROR"
	ErrCodeFolderNotFound string = "ERR_FOLDER_NOT_FOUND"
	ErrCodeStatusFailed   string = "ERR_STATUS_FAILED"
	ErrCodeNotReady       string = "ERR_NOT_READY"
)

// Folders is what the handlers need from the running client
type Folders interface {
	Managers() []*sync.SyncManager
	SyncStatus() *sync.SyncStatus
}

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
