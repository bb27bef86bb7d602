package cmis

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Well-known property ids
const (
	PropObjectID              = "cmis:objectId"
	PropName                  = "cmis:name"
	PropBaseTypeID            = "cmis:baseTypeId"
	PropObjectTypeID          = "cmis:objectTypeId"
	PropCreatedBy             = "cmis:createdBy"
	PropCreationDate          = "cmis:creationDate"
	PropLastModifiedBy        = "cmis:lastModifiedBy"
	PropLastModificationDate  = "cmis:lastModificationDate"
	PropChangeToken           = "cmis:changeToken"
	PropContentStreamLength   = "cmis:contentStreamLength"
	PropContentStreamFileName = "cmis:contentStreamFileName"
	PropContentStreamMimeType = "cmis:contentStreamMimeType"
	PropPath                  = "cmis:path"
	PropParentID              = "cmis:parentId"
)

// Base type ids
const (
	TypeDocument = "cmis:document"
	TypeFolder   = "cmis:folder"
)

// ObjectKind distinguishes documents from folders
type ObjectKind int

const (
	KindDocument ObjectKind = iota
	KindFolder
	KindOther
)

func (k ObjectKind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindFolder:
		return "folder"
	default:
		return "other"
	}
}

// KindFromBaseType maps a cmis:baseTypeId value to an ObjectKind
func KindFromBaseType(baseTypeID string) ObjectKind {
	switch baseTypeID {
	case TypeDocument:
		return KindDocument
	case TypeFolder:
		return KindFolder
	default:
		return KindOther
	}
}

// Property is one property value set of an object. Single-valued properties
// carry exactly one element in Values.
type Property struct {
	ID          string
	Values      []any
	MultiValued bool
}

// Object is a folder or document as reported by the repository
type Object struct {
	ID                    string
	Name                  string
	Kind                  ObjectKind
	TypeID                string
	ParentID              string // folders only
	Path                  string // folders only, or when resolved by path
	ModTime               time.Time
	ChangeToken           string
	ContentLength         int64 // -1 when the document has no content stream
	ContentStreamFileName string
	ContentMimeType       string
	Properties            map[string]Property
}

func (o *Object) IsFolder() bool {
	return o.Kind == KindFolder
}

func (o *Object) IsDocument() bool {
	return o.Kind == KindDocument
}

// FileName is the name a document takes on disk: its content stream file
// name when present, its cmis:name otherwise
func (o *Object) FileName() string {
	if o.ContentStreamFileName != "" {
		return o.ContentStreamFileName
	}
	return o.Name
}

func (o *Object) String() string {
	return fmt.Sprintf("%s %s (%s)", o.Kind, o.Name, o.ID)
}

// ContentStream is a document body in transit. Reader is owned by whoever
// receives the stream and must be closed.
type ContentStream struct {
	FileName string
	MimeType string
	Length   int64 // -1 when unknown
	Reader   io.ReadCloser

	// Progress, when set, is called while the stream is uploaded
	Progress func(done, total int64)
}

func (c *ContentStream) Close() error {
	if c == nil || c.Reader == nil {
		return nil
	}
	return c.Reader.Close()
}

// NewContentStream wraps r as a content stream of the given length
func NewContentStream(fileName, mimeType string, length int64, r io.Reader) *ContentStream {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return &ContentStream{FileName: fileName, MimeType: mimeType, Length: length, Reader: rc}
}

// ChangesCapability is the repository's change log support level
type ChangesCapability string

const (
	ChangesNone          ChangesCapability = "none"
	ChangesObjectIDsOnly ChangesCapability = "objectidsonly"
	ChangesProperties    ChangesCapability = "properties"
	ChangesAll           ChangesCapability = "all"
)

// ParseChangesCapability accepts the wire spelling in any case
func ParseChangesCapability(s string) ChangesCapability {
	switch ChangesCapability(strings.ToLower(s)) {
	case ChangesObjectIDsOnly:
		return ChangesObjectIDsOnly
	case ChangesProperties:
		return ChangesProperties
	case ChangesAll:
		return ChangesAll
	default:
		return ChangesNone
	}
}

// HasChangeLog reports whether content changes can be queried at all
func (c ChangesCapability) HasChangeLog() bool {
	return c != "" && c != ChangesNone
}

// RepositoryInfo describes the connected repository
type RepositoryInfo struct {
	ID                   string
	Name                 string
	ProductName          string
	ProductVersion       string
	RootFolderID         string
	RepositoryURL        string
	RootFolderURL        string
	ChangesCapability    ChangesCapability
	LatestChangeLogToken string
}

// ChangeType of one change log entry
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeUpdated  ChangeType = "updated"
	ChangeDeleted  ChangeType = "deleted"
	ChangeSecurity ChangeType = "security"
)

// ChangeEvent is one entry of the repository change log
type ChangeEvent struct {
	ObjectID   string
	Type       ChangeType
	Time       time.Time
	Properties map[string]Property
}

// ChangeLog is one page of content changes
type ChangeLog struct {
	Events      []ChangeEvent
	HasMore     bool
	LatestToken string
}

// Updatability of a property as declared by its type
type Updatability string

const (
	UpdatabilityReadOnly       Updatability = "readonly"
	UpdatabilityReadWrite      Updatability = "readwrite"
	UpdatabilityWhenCheckedOut Updatability = "whencheckedout"
	UpdatabilityOnCreate       Updatability = "oncreate"
)

// PropertyDefinition is the schema of one property of a type
type PropertyDefinition struct {
	ID           string
	DisplayName  string
	Updatability Updatability
	MultiValued  bool
}

// TypeDefinition is the schema of an object type
type TypeDefinition struct {
	ID                  string
	BaseID              string
	DisplayName         string
	PropertyDefinitions map[string]PropertyDefinition
}
