// Package cmis is a client for repositories speaking the CMIS 1.1 Browser
// Binding, reduced to the operations a folder synchronizer needs.
package cmis

import (
	"context"
	"time"
)

// Session is a connection to one repository
type Session interface {
	RepositoryInfo(ctx context.Context) (*RepositoryInfo, error)

	// GetObjectByPath returns ErrNotFound when nothing lives at path
	GetObjectByPath(ctx context.Context, path string) (*Object, error)
	GetObject(ctx context.Context, id string) (*Object, error)
	GetObjectParents(ctx context.Context, obj *Object) ([]*Object, error)
	GetChildren(ctx context.Context, folder *Object) ([]*Object, error)

	// GetContentStream returns nil, nil when the document has no content
	GetContentStream(ctx context.Context, doc *Object) (*ContentStream, error)
	CreateDocument(ctx context.Context, parent *Object, name, typeID string, content *ContentStream) (*Object, error)
	SetContentStream(ctx context.Context, doc *Object, content *ContentStream, overwrite bool) (*Object, error)
	CreateFolder(ctx context.Context, parent *Object, name, typeID string) (*Object, error)
	DeleteAllVersions(ctx context.Context, doc *Object) error
	DeleteTree(ctx context.Context, folder *Object, allVersions, continueOnFailure bool) error

	GetContentChanges(ctx context.Context, token string, maxItems int) (*ChangeLog, error)
	GetTypeDefinition(ctx context.Context, typeID string) (*TypeDefinition, error)

	Close() error
}

// SessionParams are the settings needed to open a Session
type SessionParams struct {
	URL          string // Browser Binding service URL
	RepositoryID string // empty selects the first repository
	User         string
	Password     string
	Timeout      time.Duration
	UserAgent    string
}

// Connector opens a Session
type Connector func(ctx context.Context, params *SessionParams) (Session, error)
