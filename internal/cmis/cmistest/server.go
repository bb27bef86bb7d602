// Package cmistest serves a memrepo.Repository over the CMIS Browser Binding
// so the HTTP client can be exercised end to end.
package cmistest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/cmis/memrepo"
	slogGin "github.com/samber/slog-gin"
)

const servicePath = "/browser"

// Server routes Browser Binding requests to a repository
type Server struct {
	repo   *memrepo.Repository
	router *gin.Engine
}

func New(repo *memrepo.Repository) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{repo: repo, router: gin.New()}
	s.router.Use(
		gin.Recovery(),
		slogGin.NewWithConfig(slog.Default().WithGroup("cmis"), slogGin.Config{
			DefaultLevel:     slog.LevelDebug,
			ClientErrorLevel: slog.LevelDebug,
			ServerErrorLevel: slog.LevelWarn,
		}),
		gzip.Gzip(gzip.BestSpeed),
		s.basicAuth,
	)

	s.router.GET(servicePath, s.handleServiceDocument)
	s.router.GET(servicePath+"/:repo/*rest", s.handleGet)
	s.router.POST(servicePath+"/:repo/*rest", s.handlePost)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// NewServer starts an httptest server for repo. Close it when done.
func NewServer(repo *memrepo.Repository) *httptest.Server {
	return httptest.NewServer(New(repo).Handler())
}

// ServiceURL is the Browser Binding service URL of a server started by NewServer
func ServiceURL(ts *httptest.Server) string {
	return ts.URL + servicePath
}

func (s *Server) basicAuth(c *gin.Context) {
	user, password, _ := c.Request.BasicAuth()
	if !s.repo.Authenticate(user, password) {
		c.Header("WWW-Authenticate", `Basic realm="cmis"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, cmis.BrowserError{
			Exception: "unauthorized",
			Message:   "bad credentials",
		})
		return
	}
	c.Next()
}

func (s *Server) handleServiceDocument(c *gin.Context) {
	info, err := s.repo.RepositoryInfo(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]*cmis.BrowserRepositoryInfo{
		info.ID: s.browserInfo(c, info),
	})
}

func (s *Server) browserInfo(c *gin.Context, info *cmis.RepositoryInfo) *cmis.BrowserRepositoryInfo {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	repoURL := fmt.Sprintf("%s://%s%s/%s", scheme, c.Request.Host, servicePath, info.ID)
	return &cmis.BrowserRepositoryInfo{
		RepositoryID:         info.ID,
		RepositoryName:       info.Name,
		ProductName:          info.ProductName,
		RootFolderID:         info.RootFolderID,
		RepositoryURL:        repoURL + "/",
		RootFolderURL:        repoURL + "/root",
		LatestChangeLogToken: info.LatestChangeLogToken,
		Capabilities:         cmis.BrowserCapabilities{Changes: string(info.ChangesCapability)},
	}
}

// splitRest separates repository URL requests ("/") from root folder
// requests ("/root" or "/root/<path>")
func splitRest(rest string) (objectPath string, isRoot bool) {
	if rest == "/root" || strings.HasPrefix(rest, "/root/") {
		return "/" + strings.TrimPrefix(strings.TrimPrefix(rest, "/root"), "/"), true
	}
	return "", false
}

func (s *Server) handleGet(c *gin.Context) {
	if c.Param("repo") != s.repo.ID() {
		writeError(c, cmis.NewError(cmis.ErrNotFound, "repository", "unknown repository"))
		return
	}

	objectPath, isRoot := splitRest(c.Param("rest"))
	if !isRoot {
		s.handleRepositoryGet(c)
		return
	}

	ctx := c.Request.Context()
	selector := c.DefaultQuery("cmisselector", cmis.SelectorObject)

	obj, err := s.target(c, objectPath)
	if err != nil {
		writeError(c, err)
		return
	}

	switch selector {
	case cmis.SelectorObject:
		c.JSON(http.StatusOK, cmis.ObjectToBrowser(obj))

	case cmis.SelectorChildren:
		children, err := s.repo.GetChildren(ctx, obj)
		if err != nil {
			writeError(c, err)
			return
		}
		skip, _ := strconv.Atoi(c.DefaultQuery("skipCount", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("maxItems", "0"))
		if skip > len(children) {
			skip = len(children)
		}
		end := len(children)
		if limit > 0 && skip+limit < end {
			end = skip + limit
		}
		page := cmis.BrowserChildren{
			Objects:      make([]cmis.BrowserObjectInFolder, 0, end-skip),
			HasMoreItems: end < len(children),
			NumItems:     len(children),
		}
		for _, child := range children[skip:end] {
			page.Objects = append(page.Objects, cmis.BrowserObjectInFolder{
				Object:      cmis.ObjectToBrowser(child),
				PathSegment: child.Name,
			})
		}
		c.JSON(http.StatusOK, page)

	case cmis.SelectorParents, cmis.SelectorParent:
		parents, err := s.repo.GetObjectParents(ctx, obj)
		if err != nil {
			writeError(c, err)
			return
		}
		if selector == cmis.SelectorParent {
			if len(parents) == 0 {
				writeError(c, cmis.NewError(cmis.ErrInvalidArgument, "getFolderParent", "root folder has no parent"))
				return
			}
			c.JSON(http.StatusOK, cmis.ObjectToBrowser(parents[0]))
			return
		}
		out := make([]cmis.BrowserParent, 0, len(parents))
		for _, p := range parents {
			out = append(out, cmis.BrowserParent{Object: cmis.ObjectToBrowser(p), RelativePathSegment: obj.Name})
		}
		c.JSON(http.StatusOK, out)

	case cmis.SelectorContent:
		stream, err := s.repo.GetContentStream(ctx, obj)
		if err != nil {
			writeError(c, err)
			return
		}
		if stream == nil {
			writeError(c, cmis.NewError(cmis.ErrConstraint, "getContentStream", "document has no content stream"))
			return
		}
		defer stream.Close()
		// length left to the transport; responses may be gzipped
		c.DataFromReader(http.StatusOK, -1, stream.MimeType, stream.Reader, nil)

	default:
		writeError(c, cmis.NewError(cmis.ErrInvalidArgument, "get", "unsupported selector "+selector))
	}
}

func (s *Server) handleRepositoryGet(c *gin.Context) {
	ctx := c.Request.Context()
	selector := c.DefaultQuery("cmisselector", cmis.SelectorRepoInfo)

	switch selector {
	case cmis.SelectorRepoInfo:
		s.handleServiceDocument(c)

	case cmis.SelectorTypeDefinition:
		td, err := s.repo.GetTypeDefinition(ctx, c.Query("typeId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cmis.TypeDefinitionToBrowser(td))

	case cmis.SelectorContentChanges:
		maxItems, _ := strconv.Atoi(c.DefaultQuery("maxItems", "0"))
		changes, err := s.repo.GetContentChanges(ctx, c.Query("changeLogToken"), maxItems)
		if err != nil {
			writeError(c, err)
			return
		}
		out := cmis.BrowserChanges{
			Objects:        make([]cmis.BrowserObject, 0, len(changes.Events)),
			HasMoreItems:   changes.HasMore,
			ChangeLogToken: changes.LatestToken,
		}
		for _, ev := range changes.Events {
			props := cmis.PropertiesToSuccinct(ev.Properties)
			props[cmis.PropObjectID] = ev.ObjectID
			out.Objects = append(out.Objects, cmis.BrowserObject{
				SuccinctProperties: props,
				ChangeEventInfo: &cmis.BrowserChangeEventInfo{
					ChangeType: string(ev.Type),
					ChangeTime: ev.Time.UnixMilli(),
				},
			})
		}
		c.JSON(http.StatusOK, out)

	default:
		writeError(c, cmis.NewError(cmis.ErrInvalidArgument, "get", "unsupported selector "+selector))
	}
}

func (s *Server) handlePost(c *gin.Context) {
	if c.Param("repo") != s.repo.ID() {
		writeError(c, cmis.NewError(cmis.ErrNotFound, "repository", "unknown repository"))
		return
	}
	objectPath, isRoot := splitRest(c.Param("rest"))
	if !isRoot {
		writeError(c, cmis.NewError(cmis.ErrInvalidArgument, "post", "actions are posted to the root folder url"))
		return
	}

	ctx := c.Request.Context()
	action := c.PostForm("cmisaction")

	obj, err := s.target(c, objectPath)
	if err != nil {
		writeError(c, err)
		return
	}

	switch action {
	case cmis.ActionCreateDocument, cmis.ActionCreateFolder:
		props := formProperties(c)
		var created *cmis.Object
		if action == cmis.ActionCreateFolder {
			created, err = s.repo.CreateFolder(ctx, obj, props[cmis.PropName], props[cmis.PropObjectTypeID])
		} else {
			content, cerr := formContent(c)
			if cerr != nil {
				writeError(c, cerr)
				return
			}
			created, err = s.repo.CreateDocument(ctx, obj, props[cmis.PropName], props[cmis.PropObjectTypeID], content)
			content.Close()
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cmis.ObjectToBrowser(created))

	case cmis.ActionSetContent:
		content, err := formContent(c)
		if err != nil {
			writeError(c, err)
			return
		}
		defer content.Close()
		overwrite := c.DefaultPostForm("overwriteFlag", "true") != "false"
		updated, err := s.repo.SetContentStream(ctx, obj, content, overwrite)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cmis.ObjectToBrowser(updated))

	case cmis.ActionDelete:
		if err := s.repo.DeleteAllVersions(ctx, obj); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusOK)

	case cmis.ActionDeleteTree:
		allVersions := c.DefaultPostForm("allVersions", "true") != "false"
		continueOnFailure := c.DefaultPostForm("continueOnFailure", "false") == "true"
		if err := s.repo.DeleteTree(ctx, obj, allVersions, continueOnFailure); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cmis.BrowserDeleteTreeResult{FailedIDs: []string{}})

	default:
		writeError(c, cmis.NewError(cmis.ErrInvalidArgument, "post", "unsupported action "+action))
	}
}

// target resolves the object a request addresses: objectId wins over the path
func (s *Server) target(c *gin.Context, objectPath string) (*cmis.Object, error) {
	id := c.Query("objectId")
	if id == "" {
		id = c.PostForm("objectId")
	}
	if id != "" {
		return s.repo.GetObject(c.Request.Context(), id)
	}
	return s.repo.GetObjectByPath(c.Request.Context(), objectPath)
}

func formProperties(c *gin.Context) map[string]string {
	props := make(map[string]string)
	for i := 0; ; i++ {
		id, ok := c.GetPostForm(fmt.Sprintf("propertyId[%d]", i))
		if !ok {
			break
		}
		props[id] = c.PostForm(fmt.Sprintf("propertyValue[%d]", i))
	}
	return props
}

// formContent returns the multipart "content" part, or nil when the request
// carries none
func formContent(c *gin.Context) (*cmis.ContentStream, error) {
	fh, err := c.FormFile("content")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, cmis.NewError(cmis.ErrInvalidArgument, "content", err.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return nil, cmis.NewError(cmis.ErrInvalidArgument, "content", err.Error())
	}
	return cmis.NewContentStream(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f), nil
}

func writeError(c *gin.Context, err error) {
	var cmisErr *cmis.Error
	if errors.As(err, &cmisErr) {
		c.AbortWithStatusJSON(cmis.StatusFor(cmisErr.Kind), cmis.BrowserError{
			Exception: cmis.ExceptionName(cmisErr.Kind),
			Message:   cmisErr.Message,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, cmis.BrowserError{
		Exception: "runtime",
		Message:   err.Error(),
	})
}
