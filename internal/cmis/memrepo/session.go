package memrepo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/openmined/cmissync/internal/cmis"
)

func (r *Repository) RepositoryInfo(ctx context.Context) (*cmis.RepositoryInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guard("repositoryInfo", ""); err != nil {
		return nil, err
	}
	return &cmis.RepositoryInfo{
		ID:                   r.id,
		Name:                 "In-memory repository",
		ProductName:          "memrepo",
		RootFolderID:         RootID,
		ChangesCapability:    r.capability,
		LatestChangeLogToken: strconv.Itoa(len(r.changes)),
	}, nil
}

func (r *Repository) GetObjectByPath(ctx context.Context, remotePath string) (*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guard("getObjectByPath", remotePath); err != nil {
		return nil, err
	}
	n, err := r.lookup(remotePath)
	if err != nil {
		return nil, err
	}
	r.calls["getObjectByPath"]++
	return r.toObject(n), nil
}

func (r *Repository) GetObject(ctx context.Context, id string) (*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guard("getObject", ""); err != nil {
		return nil, err
	}
	n, ok := r.nodes[id]
	if !ok {
		return nil, cmis.NewError(cmis.ErrNotFound, "getObject", fmt.Sprintf("object %s not found", id))
	}
	if err := r.guard("getObject", n.path()); err != nil {
		return nil, err
	}
	return r.toObject(n), nil
}

func (r *Repository) GetObjectParents(ctx context.Context, obj *cmis.Object) ([]*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guard("getObjectParents", ""); err != nil {
		return nil, err
	}
	n, err := r.nodeFor("getObjectParents", obj)
	if err != nil {
		return nil, err
	}
	if n.parent == nil {
		return nil, nil
	}
	return []*cmis.Object{r.toObject(n.parent)}, nil
}

func (r *Repository) GetChildren(ctx context.Context, folder *cmis.Object) ([]*cmis.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.nodeFor("getChildren", folder)
	if err != nil {
		return nil, err
	}
	if err := r.guard("getChildren", n.path()); err != nil {
		return nil, err
	}
	if n.kind != cmis.KindFolder {
		return nil, cmis.NewError(cmis.ErrInvalidArgument, "getChildren", n.path()+" is not a folder")
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]*cmis.Object, 0, len(names))
	for _, name := range names {
		out = append(out, r.toObject(n.children[name]))
	}
	r.calls["getChildren"]++
	return out, nil
}

func (r *Repository) GetContentStream(ctx context.Context, doc *cmis.Object) (*cmis.ContentStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.nodeFor("getContentStream", doc)
	if err != nil {
		return nil, err
	}
	if err := r.guard("getContentStream", n.path()); err != nil {
		return nil, err
	}
	if n.kind != cmis.KindDocument {
		return nil, cmis.NewError(cmis.ErrInvalidArgument, "getContentStream", n.path()+" is not a document")
	}
	r.calls["getContentStream"]++
	if !n.hasContent {
		return nil, nil
	}
	return &cmis.ContentStream{
		FileName: n.fileName,
		MimeType: n.mimeType,
		Length:   int64(len(n.content)),
		Reader:   io.NopCloser(bytes.NewReader(bytes.Clone(n.content))),
	}, nil
}

func (r *Repository) CreateDocument(ctx context.Context, parent *cmis.Object, name, typeID string, content *cmis.ContentStream) (*cmis.Object, error) {
	data, err := readContent(content)
	if err != nil {
		return nil, cmis.NewError(cmis.ErrConnection, "createDocument", err.Error())
	}

	r.mu.Lock()
	p, err := r.nodeFor("createDocument", parent)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := r.checkCreate("createDocument", p, name); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if typeID == "" {
		typeID = cmis.TypeDocument
	}
	n := r.newNode(p, name, typeID, cmis.KindDocument)
	if content != nil {
		fileName := content.FileName
		if fileName == "" {
			fileName = name
		}
		r.writeContent(n, fileName, data)
		if content.MimeType != "" {
			n.mimeType = content.MimeType
		}
	}
	n.version = 1
	r.logChange(n, cmis.ChangeCreated)
	r.calls["createDocument"]++
	obj := r.toObject(n)
	hook := r.hook
	r.mu.Unlock()

	reportProgress(content, int64(len(data)))
	if hook != nil {
		hook("createDocument", obj)
	}
	return obj, nil
}

func (r *Repository) SetContentStream(ctx context.Context, doc *cmis.Object, content *cmis.ContentStream, overwrite bool) (*cmis.Object, error) {
	data, err := readContent(content)
	if err != nil {
		return nil, cmis.NewError(cmis.ErrConnection, "setContent", err.Error())
	}

	r.mu.Lock()
	n, err := r.nodeFor("setContent", doc)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := r.guard("setContent", n.path()); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if n.kind != cmis.KindDocument {
		r.mu.Unlock()
		return nil, cmis.NewError(cmis.ErrInvalidArgument, "setContent", n.path()+" is not a document")
	}
	if n.hasContent && !overwrite {
		r.mu.Unlock()
		return nil, cmis.NewError(cmis.ErrConstraint, "setContent", "content already exists")
	}
	fileName := n.name
	if content != nil && content.FileName != "" {
		fileName = content.FileName
	}
	r.writeContent(n, fileName, data)
	if content != nil && content.MimeType != "" {
		n.mimeType = content.MimeType
	}
	r.calls["setContent"]++
	obj := r.toObject(n)
	hook := r.hook
	r.mu.Unlock()

	reportProgress(content, int64(len(data)))
	if hook != nil {
		hook("setContent", obj)
	}
	return obj, nil
}

func (r *Repository) CreateFolder(ctx context.Context, parent *cmis.Object, name, typeID string) (*cmis.Object, error) {
	r.mu.Lock()
	p, err := r.nodeFor("createFolder", parent)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := r.checkCreate("createFolder", p, name); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if typeID == "" {
		typeID = cmis.TypeFolder
	}
	n := r.newNode(p, name, typeID, cmis.KindFolder)
	r.logChange(n, cmis.ChangeCreated)
	r.calls["createFolder"]++
	obj := r.toObject(n)
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook("createFolder", obj)
	}
	return obj, nil
}

func (r *Repository) DeleteAllVersions(ctx context.Context, doc *cmis.Object) error {
	r.mu.Lock()
	n, err := r.nodeFor("delete", doc)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.guard("delete", n.path()); err != nil {
		r.mu.Unlock()
		return err
	}
	if n.kind == cmis.KindFolder && len(n.children) > 0 {
		r.mu.Unlock()
		return cmis.NewError(cmis.ErrConstraint, "delete", n.path()+" is not empty")
	}
	obj := r.toObject(n)
	r.removeTree(n)
	r.calls["delete"]++
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook("delete", obj)
	}
	return nil
}

func (r *Repository) DeleteTree(ctx context.Context, folder *cmis.Object, allVersions, continueOnFailure bool) error {
	r.mu.Lock()
	n, err := r.nodeFor("deleteTree", folder)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.guard("deleteTree", n.path()); err != nil {
		r.mu.Unlock()
		return err
	}
	if n == r.root {
		r.mu.Unlock()
		return cmis.NewError(cmis.ErrConstraint, "deleteTree", "cannot delete the root folder")
	}
	obj := r.toObject(n)
	r.removeTree(n)
	r.calls["deleteTree"]++
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook("deleteTree", obj)
	}
	return nil
}

func (r *Repository) GetContentChanges(ctx context.Context, token string, maxItems int) (*cmis.ChangeLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guard("getContentChanges", ""); err != nil {
		return nil, err
	}
	if !r.capability.HasChangeLog() {
		return nil, cmis.NewError(cmis.ErrConstraint, "getContentChanges", "change log not supported")
	}

	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(r.changes) {
			return nil, cmis.NewError(cmis.ErrInvalidArgument, "getContentChanges", fmt.Sprintf("invalid change log token %q", token))
		}
		start = n
	}

	end := len(r.changes)
	if maxItems > 0 && start+maxItems < end {
		end = start + maxItems
	}

	out := &cmis.ChangeLog{
		HasMore:     end < len(r.changes),
		LatestToken: strconv.Itoa(end),
	}
	for _, c := range r.changes[start:end] {
		ev := cmis.ChangeEvent{ObjectID: c.objectID, Type: c.kind, Time: c.time}
		if r.capability == cmis.ChangesProperties || r.capability == cmis.ChangesAll {
			ev.Properties = c.props
		}
		out.Events = append(out.Events, ev)
	}
	return out, nil
}

func (r *Repository) GetTypeDefinition(ctx context.Context, typeID string) (*cmis.TypeDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guard("getTypeDefinition", ""); err != nil {
		return nil, err
	}
	td, ok := r.types[typeID]
	if !ok {
		return nil, cmis.NewError(cmis.ErrNotFound, "getTypeDefinition", fmt.Sprintf("type %s not found", typeID))
	}
	r.calls["getTypeDefinition"]++
	return td, nil
}

func (r *Repository) Close() error {
	return nil
}

func (r *Repository) checkCreate(op string, parent *node, name string) error {
	target := strings.TrimSuffix(parent.path(), "/") + "/" + name
	if err := r.guard(op, target); err != nil {
		return err
	}
	if parent.kind != cmis.KindFolder {
		return cmis.NewError(cmis.ErrInvalidArgument, op, parent.path()+" is not a folder")
	}
	if name == "" || strings.ContainsAny(name, "/") {
		return cmis.NewError(cmis.ErrInvalidArgument, op, fmt.Sprintf("invalid name %q", name))
	}
	if _, exists := parent.children[name]; exists {
		return cmis.NewError(cmis.ErrConstraint, op, target+" already exists")
	}
	return nil
}

func readContent(content *cmis.ContentStream) ([]byte, error) {
	if content == nil || content.Reader == nil {
		return nil, nil
	}
	return io.ReadAll(content.Reader)
}

func reportProgress(content *cmis.ContentStream, n int64) {
	if content != nil && content.Progress != nil {
		content.Progress(n, n)
	}
}
