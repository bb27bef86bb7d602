package handlers

import "github.com/openmined/cmissync/internal/client/sync"

// StatusResponse represents the health of the daemon and of every folder it runs.
type StatusResponse struct {
	Status    string                `json:"status"`    // health status ("ok").
	Timestamp string                `json:"ts"`        // timestamp when the status was taken.
	Version   string                `json:"version"`   // version of the client.
	Revision  string                `json:"revision"`  // revision of the client.
	BuildDate string                `json:"buildDate"` // build date of the client.
	StartedAt string                `json:"startedAt"` // when the daemon started.
	Runtime   *RuntimeStats         `json:"runtime,omitempty"`
	Folders   []*sync.MappingStatus `json:"folders"`
}
