// Package memrepo is a thread-safe in-memory CMIS repository. It implements
// cmis.Session directly and keeps a change log, so it can stand in for a
// real server in tests and in demo mode.
package memrepo

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/cmissync/internal/cmis"
)

const RootID = "root"

type node struct {
	id         string
	name       string
	typeID     string
	kind       cmis.ObjectKind
	parent     *node
	children   map[string]*node
	content    []byte
	hasContent bool
	fileName   string
	mimeType   string
	createdBy  string
	created    time.Time
	modifiedBy string
	modTime    time.Time
	version    int
	props      map[string]cmis.Property
}

func (n *node) path() string {
	if n.parent == nil {
		return "/"
	}
	parent := n.parent.path()
	if parent == "/" {
		return "/" + n.name
	}
	return parent + "/" + n.name
}

type changeEntry struct {
	objectID string
	kind     cmis.ChangeType
	time     time.Time
	props    map[string]cmis.Property
}

// Hook is called after a successful mutating operation, outside the lock
type Hook func(op string, obj *cmis.Object)

// Repository is an in-memory repository
type Repository struct {
	mu         sync.Mutex
	id         string
	clock      clockwork.Clock
	user       string
	password   string
	nodes      map[string]*node
	root       *node
	nextID     int
	lastMod    time.Time
	changes    []changeEntry
	capability cmis.ChangesCapability
	types      map[string]*cmis.TypeDefinition
	offline    bool
	failures   map[string]error
	calls      map[string]int
	hook       Hook
}

var _ cmis.Session = (*Repository)(nil)

type Option func(*Repository)

// WithClock sets the clock stamping modification times
func WithClock(clock clockwork.Clock) Option {
	return func(r *Repository) {
		r.clock = clock
	}
}

// WithCapability sets the advertised change log capability
func WithCapability(c cmis.ChangesCapability) Option {
	return func(r *Repository) {
		r.capability = c
	}
}

// WithCredentials makes Connector reject other credentials. The user is also
// recorded as creator of new objects.
func WithCredentials(user, password string) Option {
	return func(r *Repository) {
		r.user = user
		r.password = password
	}
}

// WithID sets the repository id
func WithID(id string) Option {
	return func(r *Repository) {
		r.id = id
	}
}

func New(opts ...Option) *Repository {
	r := &Repository{
		id:         "mem",
		clock:      clockwork.NewRealClock(),
		user:       "admin",
		nodes:      make(map[string]*node),
		capability: cmis.ChangesAll,
		types:      defaultTypes(),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}

	now := r.tick()
	r.root = &node{
		id:        RootID,
		typeID:    cmis.TypeFolder,
		kind:      cmis.KindFolder,
		children:  make(map[string]*node),
		createdBy: r.user,
		created:   now,
		modTime:   now,
	}
	r.nodes[RootID] = r.root
	return r
}

// Connector returns a cmis.Connector handing out this repository
func (r *Repository) Connector() cmis.Connector {
	return func(ctx context.Context, params *cmis.SessionParams) (cmis.Session, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.offline {
			return nil, cmis.NewError(cmis.ErrConnection, "connect", "repository offline")
		}
		if r.password != "" && (params == nil || params.User != r.user || params.Password != r.password) {
			return nil, cmis.NewError(cmis.ErrUnauthorized, "connect", "bad credentials")
		}
		if params != nil && params.RepositoryID != "" && params.RepositoryID != r.id {
			return nil, cmis.NewError(cmis.ErrNotFound, "connect", fmt.Sprintf("repository %q not found", params.RepositoryID))
		}
		return r, nil
	}
}

// ID of the repository
func (r *Repository) ID() string {
	return r.id
}

// Authenticate reports whether user/password are accepted
func (r *Repository) Authenticate(user, password string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.password == "" || (user == r.user && password == r.password)
}

// SetOffline makes every operation fail with cmis.ErrConnection
func (r *Repository) SetOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

// SetCapability changes the advertised change log capability
func (r *Repository) SetCapability(c cmis.ChangesCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capability = c
}

// Fail makes op on the object at remotePath fail with err until ClearFailures.
// An empty remotePath matches every object.
func (r *Repository) Fail(op, remotePath string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[failureKey(op, remotePath)] = err
}

func (r *Repository) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.failures)
}

// SetHook installs a hook run after each mutating operation
func (r *Repository) SetHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = h
}

// Calls returns how many times op succeeded
func (r *Repository) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// ResetCalls zeroes all call counters
func (r *Repository) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.calls)
}

// RegisterType adds or replaces a type definition
func (r *Repository) RegisterType(td *cmis.TypeDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[td.ID] = td
}

// MkdirAll creates remotePath and any missing parents
func (r *Repository) MkdirAll(remotePath string) (*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.mkdirAll(remotePath)
	if err != nil {
		return nil, err
	}
	return r.toObject(n), nil
}

// PutFile creates or overwrites the document at remotePath, creating parents
func (r *Repository) PutFile(remotePath string, content []byte) (*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, name := path.Split(cleanPath(remotePath))
	parent, err := r.mkdirAll(dir)
	if err != nil {
		return nil, err
	}

	if existing, ok := parent.children[name]; ok {
		if existing.kind != cmis.KindDocument {
			return nil, cmis.NewError(cmis.ErrConstraint, "putFile", remotePath+" is a folder")
		}
		r.writeContent(existing, name, content)
		return r.toObject(existing), nil
	}

	n := r.newNode(parent, name, cmis.TypeDocument, cmis.KindDocument)
	r.writeContent(n, name, content)
	n.version = 1
	r.logChange(n, cmis.ChangeCreated)
	return r.toObject(n), nil
}

// PutEmptyDocument creates a document without a content stream
func (r *Repository) PutEmptyDocument(remotePath string) (*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, name := path.Split(cleanPath(remotePath))
	parent, err := r.mkdirAll(dir)
	if err != nil {
		return nil, err
	}
	if _, ok := parent.children[name]; ok {
		return nil, cmis.NewError(cmis.ErrConstraint, "putEmptyDocument", remotePath+" exists")
	}
	n := r.newNode(parent, name, cmis.TypeDocument, cmis.KindDocument)
	n.version = 1
	r.logChange(n, cmis.ChangeCreated)
	return r.toObject(n), nil
}

// ReadFile returns the content of the document at remotePath
func (r *Repository) ReadFile(remotePath string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.lookup(remotePath)
	if err != nil {
		return nil, err
	}
	if n.kind != cmis.KindDocument {
		return nil, cmis.NewError(cmis.ErrConstraint, "readFile", remotePath+" is a folder")
	}
	return bytes.Clone(n.content), nil
}

// Stat returns the object at remotePath
func (r *Repository) Stat(remotePath string) (*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.lookup(remotePath)
	if err != nil {
		return nil, err
	}
	return r.toObject(n), nil
}

// Exists reports whether an object lives at remotePath
func (r *Repository) Exists(remotePath string) bool {
	_, err := r.Stat(remotePath)
	return err == nil
}

// Remove deletes the object at remotePath and everything below it
func (r *Repository) Remove(remotePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.lookup(remotePath)
	if err != nil {
		return err
	}
	if n == r.root {
		return cmis.NewError(cmis.ErrConstraint, "remove", "cannot remove the root folder")
	}
	r.removeTree(n)
	return nil
}

// SetProperty sets a custom property on the object at remotePath
func (r *Repository) SetProperty(remotePath, id string, values ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.lookup(remotePath)
	if err != nil {
		return err
	}
	if n.props == nil {
		n.props = make(map[string]cmis.Property)
	}
	n.props[id] = cmis.Property{ID: id, Values: values, MultiValued: len(values) != 1}
	n.modTime = r.tick()
	r.logChange(n, cmis.ChangeUpdated)
	return nil
}

// AddSecurityChange appends a security event for the object at remotePath
func (r *Repository) AddSecurityChange(remotePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.lookup(remotePath)
	if err != nil {
		return err
	}
	r.logChange(n, cmis.ChangeSecurity)
	return nil
}

// Paths lists every object path below the root in sorted order. Folders end in "/".
func (r *Repository) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, n := range r.nodes {
		if n == r.root {
			continue
		}
		p := n.path()
		if n.kind == cmis.KindFolder {
			p += "/"
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (r *Repository) tick() time.Time {
	now := r.clock.Now().UTC().Truncate(time.Millisecond)
	if !now.After(r.lastMod) {
		now = r.lastMod.Add(time.Millisecond)
	}
	r.lastMod = now
	return now
}

func (r *Repository) newNode(parent *node, name, typeID string, kind cmis.ObjectKind) *node {
	r.nextID++
	now := r.tick()
	n := &node{
		id:         fmt.Sprintf("obj-%d", r.nextID),
		name:       name,
		typeID:     typeID,
		kind:       kind,
		parent:     parent,
		createdBy:  r.user,
		created:    now,
		modifiedBy: r.user,
		modTime:    now,
	}
	if kind == cmis.KindFolder {
		n.children = make(map[string]*node)
	}
	parent.children[name] = n
	r.nodes[n.id] = n
	return n
}

func (r *Repository) writeContent(n *node, fileName string, content []byte) {
	n.content = bytes.Clone(content)
	n.hasContent = true
	n.fileName = fileName
	n.mimeType = "application/octet-stream"
	if n.version > 0 {
		n.version++
		n.modTime = r.tick()
		n.modifiedBy = r.user
		r.logChange(n, cmis.ChangeUpdated)
	}
}

func (r *Repository) mkdirAll(remotePath string) (*node, error) {
	cur := r.root
	for _, seg := range splitPath(remotePath) {
		child, ok := cur.children[seg]
		if !ok {
			child = r.newNode(cur, seg, cmis.TypeFolder, cmis.KindFolder)
			r.logChange(child, cmis.ChangeCreated)
		} else if child.kind != cmis.KindFolder {
			return nil, cmis.NewError(cmis.ErrConstraint, "mkdir", child.path()+" is a document")
		}
		cur = child
	}
	return cur, nil
}

func (r *Repository) lookup(remotePath string) (*node, error) {
	cur := r.root
	for _, seg := range splitPath(remotePath) {
		if cur.kind != cmis.KindFolder {
			return nil, notFound("getObjectByPath", remotePath)
		}
		child, ok := cur.children[seg]
		if !ok {
			return nil, notFound("getObjectByPath", remotePath)
		}
		cur = child
	}
	return cur, nil
}

func (r *Repository) removeTree(n *node) {
	for _, child := range n.children {
		r.removeTree(child)
	}
	if n.parent != nil {
		delete(n.parent.children, n.name)
	}
	delete(r.nodes, n.id)
	r.logChange(n, cmis.ChangeDeleted)
}

func (r *Repository) logChange(n *node, kind cmis.ChangeType) {
	r.changes = append(r.changes, changeEntry{
		objectID: n.id,
		kind:     kind,
		time:     r.clock.Now().UTC(),
		props:    r.toObject(n).Properties,
	})
}

func (r *Repository) toObject(n *node) *cmis.Object {
	obj := &cmis.Object{
		ID:            n.id,
		Name:          n.name,
		Kind:          n.kind,
		TypeID:        n.typeID,
		Path:          n.path(),
		ModTime:       n.modTime,
		ChangeToken:   strconv.FormatInt(n.modTime.UnixMilli(), 10),
		ContentLength: -1,
		Properties:    make(map[string]cmis.Property, len(n.props)+12),
	}
	if n.parent != nil && n.kind == cmis.KindFolder {
		obj.ParentID = n.parent.id
	}
	if n.kind == cmis.KindDocument && n.hasContent {
		obj.ContentLength = int64(len(n.content))
		obj.ContentStreamFileName = n.fileName
		obj.ContentMimeType = n.mimeType
	}

	for id, p := range n.props {
		obj.Properties[id] = p
	}
	single := func(id string, v any) {
		obj.Properties[id] = cmis.Property{ID: id, Values: []any{v}}
	}
	single(cmis.PropCreatedBy, n.createdBy)
	single(cmis.PropCreationDate, n.created)
	if n.modifiedBy != "" {
		single(cmis.PropLastModifiedBy, n.modifiedBy)
	}
	if n.kind == cmis.KindDocument {
		single("cmis:versionLabel", fmt.Sprintf("%d.0", n.version))
	}
	// typed fields are authoritative; rebuild their properties from them
	for id, v := range obj.SuccinctProperties() {
		if _, ok := obj.Properties[id]; !ok || isTypedProperty(id) {
			if v == nil {
				obj.Properties[id] = cmis.Property{ID: id}
			} else {
				single(id, v)
			}
		}
	}
	return obj
}

func (r *Repository) nodeFor(op string, obj *cmis.Object) (*node, error) {
	if r.offline {
		return nil, cmis.NewError(cmis.ErrConnection, op, "repository offline")
	}
	if obj == nil {
		return nil, cmis.NewError(cmis.ErrInvalidArgument, op, "nil object")
	}
	n, ok := r.nodes[obj.ID]
	if !ok {
		return nil, cmis.NewError(cmis.ErrNotFound, op, fmt.Sprintf("object %s not found", obj.ID))
	}
	return n, nil
}

// guard checks connectivity and injected failures
func (r *Repository) guard(op, remotePath string) error {
	if r.offline {
		return cmis.NewError(cmis.ErrConnection, op, "repository offline")
	}
	if err, ok := r.failures[failureKey(op, remotePath)]; ok {
		return err
	}
	if err, ok := r.failures[failureKey(op, "")]; ok {
		return err
	}
	return nil
}

func isTypedProperty(id string) bool {
	switch id {
	case cmis.PropObjectID, cmis.PropName, cmis.PropBaseTypeID, cmis.PropObjectTypeID,
		cmis.PropPath, cmis.PropParentID, cmis.PropLastModificationDate, cmis.PropChangeToken,
		cmis.PropContentStreamLength, cmis.PropContentStreamFileName, cmis.PropContentStreamMimeType:
		return true
	}
	return false
}

func failureKey(op, remotePath string) string {
	if remotePath == "" {
		return op
	}
	return op + ":" + cleanPath(remotePath)
}

func notFound(op, remotePath string) error {
	return cmis.NewError(cmis.ErrNotFound, op, remotePath+" not found")
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

func splitPath(p string) []string {
	p = strings.Trim(cleanPath(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
