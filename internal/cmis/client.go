package cmis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/cmissync/internal/version"
)

const (
	defaultTimeout   = 60 * time.Second
	childrenPageSize = 500
)

// Client is a Session over the CMIS Browser Binding
type Client struct {
	client *req.Client
	params *SessionParams
	info   *RepositoryInfo
}

var _ Session = (*Client)(nil)

// Connect opens a Browser Binding session. It matches Connector.
func Connect(ctx context.Context, params *SessionParams) (Session, error) {
	return NewClient(ctx, params)
}

// NewClient fetches the service document at params.URL and binds to the
// requested repository
func NewClient(ctx context.Context, params *SessionParams) (*Client, error) {
	if params == nil || params.URL == "" {
		return nil, NewError(ErrInvalidArgument, "connect", "service url missing")
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := params.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	httpClient := req.C().
		SetTimeout(timeout).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1*time.Second).
		SetUserAgent(userAgent).
		SetCommonErrorResult(&BrowserError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if params.User != "" {
		httpClient.SetCommonBasicAuth(params.User, params.Password)
	}

	c := &Client{client: httpClient, params: params}

	var repos map[string]*BrowserRepositoryInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&repos).
		Get(params.URL)
	if err := handleAPIError(resp, err, "connect"); err != nil {
		return nil, err
	}

	info, err := pickRepository(repos, params.RepositoryID)
	if err != nil {
		return nil, err
	}
	c.info = info

	slog.Debug("cmis connected", "url", params.URL, "repository", info.ID, "changes", info.ChangesCapability)
	return c, nil
}

func pickRepository(repos map[string]*BrowserRepositoryInfo, id string) (*RepositoryInfo, error) {
	if len(repos) == 0 {
		return nil, NewError(ErrNotFound, "connect", "service document lists no repositories")
	}
	if id != "" {
		repo, ok := repos[id]
		if !ok {
			return nil, NewError(ErrNotFound, "connect", fmt.Sprintf("repository %q not found", id))
		}
		return repo.ToRepositoryInfo(), nil
	}
	// deterministic choice when several repositories are offered
	var first string
	for key := range repos {
		if first == "" || key < first {
			first = key
		}
	}
	return repos[first].ToRepositoryInfo(), nil
}

func (c *Client) RepositoryInfo(ctx context.Context) (*RepositoryInfo, error) {
	var repos map[string]*BrowserRepositoryInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("cmisselector", SelectorRepoInfo).
		SetSuccessResult(&repos).
		Get(c.info.RepositoryURL)
	if err := handleAPIError(resp, err, "repositoryInfo"); err != nil {
		return nil, err
	}

	info, err := pickRepository(repos, c.info.ID)
	if err != nil {
		return nil, err
	}
	c.info = info
	return info, nil
}

func (c *Client) GetObjectByPath(ctx context.Context, path string) (*Object, error) {
	var obj BrowserObject
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"cmisselector": SelectorObject,
			"succinct":     "true",
		}).
		SetSuccessResult(&obj).
		Get(c.info.RootFolderURL + escapePath(path))
	if err := handleAPIError(resp, err, "getObjectByPath"); err != nil {
		return nil, err
	}

	out := ObjectFromSuccinct(obj.SuccinctProperties)
	if out.Path == "" {
		out.Path = cleanRemotePath(path)
	}
	return out, nil
}

func (c *Client) GetObject(ctx context.Context, id string) (*Object, error) {
	var obj BrowserObject
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"objectId":     id,
			"cmisselector": SelectorObject,
			"succinct":     "true",
		}).
		SetSuccessResult(&obj).
		Get(c.info.RootFolderURL)
	if err := handleAPIError(resp, err, "getObject"); err != nil {
		return nil, err
	}
	return ObjectFromSuccinct(obj.SuccinctProperties), nil
}

func (c *Client) GetObjectParents(ctx context.Context, obj *Object) ([]*Object, error) {
	if obj.IsFolder() {
		if obj.ID == c.info.RootFolderID {
			return nil, nil
		}
		var parent BrowserObject
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"objectId":     obj.ID,
				"cmisselector": SelectorParent,
				"succinct":     "true",
			}).
			SetSuccessResult(&parent).
			Get(c.info.RootFolderURL)
		if err := handleAPIError(resp, err, "getFolderParent"); err != nil {
			return nil, err
		}
		return []*Object{ObjectFromSuccinct(parent.SuccinctProperties)}, nil
	}

	var parents []BrowserParent
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"objectId":     obj.ID,
			"cmisselector": SelectorParents,
			"succinct":     "true",
		}).
		SetSuccessResult(&parents).
		Get(c.info.RootFolderURL)
	if err := handleAPIError(resp, err, "getObjectParents"); err != nil {
		return nil, err
	}

	out := make([]*Object, 0, len(parents))
	for _, p := range parents {
		out = append(out, ObjectFromSuccinct(p.Object.SuccinctProperties))
	}
	return out, nil
}

func (c *Client) GetChildren(ctx context.Context, folder *Object) ([]*Object, error) {
	var out []*Object
	for skip := 0; ; {
		var page BrowserChildren
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"objectId":           folder.ID,
				"cmisselector":       SelectorChildren,
				"succinct":           "true",
				"includePathSegment": "true",
				"maxItems":           strconv.Itoa(childrenPageSize),
				"skipCount":          strconv.Itoa(skip),
			}).
			SetSuccessResult(&page).
			Get(c.info.RootFolderURL)
		if err := handleAPIError(resp, err, "getChildren"); err != nil {
			return nil, err
		}

		for _, child := range page.Objects {
			obj := ObjectFromSuccinct(child.Object.SuccinctProperties)
			if obj.Path == "" && folder.Path != "" {
				segment := child.PathSegment
				if segment == "" {
					segment = obj.Name
				}
				obj.Path = joinPath(folder.Path, segment)
			}
			out = append(out, obj)
		}

		skip += len(page.Objects)
		if !page.HasMoreItems || len(page.Objects) == 0 {
			break
		}
	}
	return out, nil
}

func (c *Client) GetContentStream(ctx context.Context, doc *Object) (*ContentStream, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		SetQueryParams(map[string]string{
			"objectId":     doc.ID,
			"cmisselector": SelectorContent,
		}).
		Get(c.info.RootFolderURL)
	if err != nil {
		return nil, &Error{Kind: ErrConnection, Op: "getContentStream", Err: err}
	}

	if resp.IsErrorState() {
		defer resp.Body.Close()
		apiErr := errorFromBody(resp.GetStatusCode(), resp.Body, "getContentStream")
		// a document without content is reported as a constraint violation
		if apiErr.Kind == ErrConstraint {
			return nil, nil
		}
		return nil, apiErr
	}

	length := resp.ContentLength
	if length < 0 && doc.ContentLength >= 0 {
		length = doc.ContentLength
	}
	return &ContentStream{
		FileName: doc.FileName(),
		MimeType: resp.GetContentType(),
		Length:   length,
		Reader:   resp.Body,
	}, nil
}

func (c *Client) CreateDocument(ctx context.Context, parent *Object, name, typeID string, content *ContentStream) (*Object, error) {
	if typeID == "" {
		typeID = TypeDocument
	}
	form := propertyForm(ActionCreateDocument, parent.ID, map[string]string{
		PropName:         name,
		PropObjectTypeID: typeID,
	})
	obj, err := c.postObject(ctx, ActionCreateDocument, form, content)
	if err != nil {
		return nil, err
	}
	if obj.Path == "" && parent.Path != "" {
		obj.Path = joinPath(parent.Path, name)
	}
	return obj, nil
}

func (c *Client) SetContentStream(ctx context.Context, doc *Object, content *ContentStream, overwrite bool) (*Object, error) {
	form := map[string]string{
		"cmisaction":    ActionSetContent,
		"objectId":      doc.ID,
		"overwriteFlag": strconv.FormatBool(overwrite),
		"succinct":      "true",
	}
	if doc.ChangeToken != "" {
		form["changeToken"] = doc.ChangeToken
	}
	obj, err := c.postObject(ctx, ActionSetContent, form, content)
	if err != nil {
		return nil, err
	}
	if obj.Path == "" {
		obj.Path = doc.Path
	}
	return obj, nil
}

func (c *Client) CreateFolder(ctx context.Context, parent *Object, name, typeID string) (*Object, error) {
	if typeID == "" {
		typeID = TypeFolder
	}
	form := propertyForm(ActionCreateFolder, parent.ID, map[string]string{
		PropName:         name,
		PropObjectTypeID: typeID,
	})
	return c.postObject(ctx, ActionCreateFolder, form, nil)
}

func (c *Client) DeleteAllVersions(ctx context.Context, doc *Object) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"cmisaction":  ActionDelete,
			"objectId":    doc.ID,
			"allVersions": "true",
		}).
		Post(c.info.RootFolderURL)
	return handleAPIError(resp, err, ActionDelete)
}

func (c *Client) DeleteTree(ctx context.Context, folder *Object, allVersions, continueOnFailure bool) error {
	var result BrowserDeleteTreeResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"cmisaction":        ActionDeleteTree,
			"objectId":          folder.ID,
			"allVersions":       strconv.FormatBool(allVersions),
			"continueOnFailure": strconv.FormatBool(continueOnFailure),
			"unfileObjects":     "delete",
		}).
		SetSuccessResult(&result).
		Post(c.info.RootFolderURL)
	if err := handleAPIError(resp, err, ActionDeleteTree); err != nil {
		return err
	}

	if len(result.FailedIDs) > 0 {
		return NewError(ErrConstraint, ActionDeleteTree,
			fmt.Sprintf("%d objects not deleted: %s", len(result.FailedIDs), strings.Join(result.FailedIDs, ", ")))
	}
	return nil
}

func (c *Client) GetContentChanges(ctx context.Context, token string, maxItems int) (*ChangeLog, error) {
	query := map[string]string{
		"cmisselector":      SelectorContentChanges,
		"succinct":          "true",
		"includeProperties": "true",
	}
	if token != "" {
		query["changeLogToken"] = token
	}
	if maxItems > 0 {
		query["maxItems"] = strconv.Itoa(maxItems)
	}

	var changes BrowserChanges
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetSuccessResult(&changes).
		Get(c.info.RepositoryURL)
	if err := handleAPIError(resp, err, "getContentChanges"); err != nil {
		return nil, err
	}

	out := &ChangeLog{HasMore: changes.HasMoreItems, LatestToken: changes.ChangeLogToken}
	for _, o := range changes.Objects {
		obj := ObjectFromSuccinct(o.SuccinctProperties)
		ev := ChangeEvent{ObjectID: obj.ID, Properties: obj.Properties}
		if o.ChangeEventInfo != nil {
			ev.Type = ChangeType(o.ChangeEventInfo.ChangeType)
			ev.Time = time.UnixMilli(o.ChangeEventInfo.ChangeTime).UTC()
		}
		out.Events = append(out.Events, ev)
	}
	return out, nil
}

func (c *Client) GetTypeDefinition(ctx context.Context, typeID string) (*TypeDefinition, error) {
	var td BrowserTypeDefinition
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"cmisselector": SelectorTypeDefinition,
			"typeId":       typeID,
		}).
		SetSuccessResult(&td).
		Get(c.info.RepositoryURL)
	if err := handleAPIError(resp, err, "getTypeDefinition"); err != nil {
		return nil, err
	}
	return td.ToTypeDefinition(), nil
}

func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

// postObject sends a cmisaction form, with content as multipart when present,
// and decodes the returned object
func (c *Client) postObject(ctx context.Context, op string, form map[string]string, content *ContentStream) (*Object, error) {
	var obj BrowserObject
	r := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetSuccessResult(&obj)

	if content != nil && content.Reader != nil {
		mimeType := content.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		reader := content.Reader
		r.SetRetryCount(0).
			SetFileUpload(req.FileUpload{
				ParamName:   "content",
				FileName:    content.FileName,
				FileSize:    content.Length,
				ContentType: mimeType,
				GetFileContent: func() (io.ReadCloser, error) {
					return reader, nil
				},
			})
		if content.Progress != nil {
			r.SetUploadCallbackWithInterval(func(info req.UploadInfo) {
				content.Progress(info.UploadedSize, info.FileSize)
			}, 500*time.Millisecond)
		}
	}

	resp, err := r.Post(c.info.RootFolderURL)
	if err := handleAPIError(resp, err, op); err != nil {
		return nil, err
	}
	return ObjectFromSuccinct(obj.SuccinctProperties), nil
}

func propertyForm(action, objectID string, props map[string]string) map[string]string {
	form := map[string]string{
		"cmisaction": action,
		"objectId":   objectID,
		"succinct":   "true",
	}
	// propertyId/propertyValue pairs are indexed in id order
	ids := make([]string, 0, len(props))
	for id := range props {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for i, id := range ids {
		form[fmt.Sprintf("propertyId[%d]", i)] = id
		form[fmt.Sprintf("propertyValue[%d]", i)] = props[id]
	}
	return form
}

// handleAPIError converts a failed request or an error response to *Error
func handleAPIError(resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		return &Error{Kind: ErrConnection, Op: op, Err: requestErr}
	}

	if resp.IsErrorState() {
		status := resp.GetStatusCode()
		apiErr := &Error{Kind: kindFromStatus(status), Op: op, Status: status, Message: resp.Status}
		if be, ok := resp.ErrorResult().(*BrowserError); ok && be != nil && be.Exception != "" {
			if kind := kindFromException(be.Exception); kind != nil && status != 401 {
				apiErr.Kind = kind
			}
			apiErr.Message = be.Message
		}
		return apiErr
	}

	return nil
}

func errorFromBody(status int, body io.Reader, op string) *Error {
	apiErr := &Error{Kind: kindFromStatus(status), Op: op, Status: status}
	raw, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var be BrowserError
	if err := jsonUnmarshal(raw, &be); err == nil && be.Exception != "" {
		if kind := kindFromException(be.Exception); kind != nil && status != 401 {
			apiErr.Kind = kind
		}
		apiErr.Message = be.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func escapePath(path string) string {
	path = cleanRemotePath(path)
	if path == "/" {
		return ""
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segments, "/")
}

func cleanRemotePath(path string) string {
	path = "/" + strings.Trim(path, "/")
	return path
}

func joinPath(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}
