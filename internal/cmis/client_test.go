package cmis_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/cmis/cmistest"
	"github.com/openmined/cmissync/internal/cmis/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, repo *memrepo.Repository, user, password string) cmis.Session {
	t.Helper()
	ts := cmistest.NewServer(repo)
	t.Cleanup(ts.Close)

	session, err := cmis.Connect(context.Background(), &cmis.SessionParams{
		URL:      cmistest.ServiceURL(ts),
		User:     user,
		Password: password,
	})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestClient_RepositoryInfo(t *testing.T) {
	repo := memrepo.New(memrepo.WithCapability(cmis.ChangesProperties))
	session := connect(t, repo, "", "")

	info, err := session.RepositoryInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mem", info.ID)
	assert.Equal(t, memrepo.RootID, info.RootFolderID)
	assert.Equal(t, cmis.ChangesProperties, info.ChangesCapability)
	assert.True(t, info.ChangesCapability.HasChangeLog())
	assert.Equal(t, "0", info.LatestChangeLogToken)
}

func TestClient_Unauthorized(t *testing.T) {
	repo := memrepo.New(memrepo.WithCredentials("alice", "secret"))
	ts := cmistest.NewServer(repo)
	defer ts.Close()

	_, err := cmis.Connect(context.Background(), &cmis.SessionParams{
		URL:      cmistest.ServiceURL(ts),
		User:     "alice",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cmis.ErrUnauthorized)
	assert.True(t, cmis.IsConnectionError(err))
}

func TestClient_ConnectionRefused(t *testing.T) {
	ts := cmistest.NewServer(memrepo.New())
	url := cmistest.ServiceURL(ts)
	ts.Close()

	_, err := cmis.Connect(context.Background(), &cmis.SessionParams{URL: url})
	assert.ErrorIs(t, err, cmis.ErrConnection)
}

func TestClient_BrowseAndRead(t *testing.T) {
	repo := memrepo.New(memrepo.WithCredentials("alice", "secret"))
	_, err := repo.PutFile("/docs/report.pdf", []byte("report body"))
	require.NoError(t, err)
	_, err = repo.PutFile("/docs/sub dir/note.txt", []byte("note"))
	require.NoError(t, err)
	_, err = repo.PutEmptyDocument("/docs/empty")
	require.NoError(t, err)

	ctx := context.Background()
	session := connect(t, repo, "alice", "secret")

	docs, err := session.GetObjectByPath(ctx, "/docs")
	require.NoError(t, err)
	assert.True(t, docs.IsFolder())
	assert.Equal(t, "/docs", docs.Path)

	children, err := session.GetChildren(ctx, docs)
	require.NoError(t, err)
	require.Len(t, children, 3)

	byName := map[string]*cmis.Object{}
	for _, c := range children {
		byName[c.Name] = c
	}
	report := byName["report.pdf"]
	require.NotNil(t, report)
	assert.True(t, report.IsDocument())
	assert.EqualValues(t, len("report body"), report.ContentLength)
	assert.Equal(t, "report.pdf", report.ContentStreamFileName)
	assert.Equal(t, "/docs/report.pdf", report.Path)
	assert.False(t, report.ModTime.IsZero())

	sub := byName["sub dir"]
	require.NotNil(t, sub)
	assert.True(t, sub.IsFolder())

	nested, err := session.GetObjectByPath(ctx, "/docs/sub dir/note.txt")
	require.NoError(t, err)
	assert.Equal(t, "note.txt", nested.Name)

	stream, err := session.GetContentStream(ctx, report)
	require.NoError(t, err)
	require.NotNil(t, stream)
	body, err := io.ReadAll(stream.Reader)
	require.NoError(t, err)
	stream.Close()
	assert.Equal(t, "report body", string(body))

	emptyStream, err := session.GetContentStream(ctx, byName["empty"])
	assert.NoError(t, err)
	assert.Nil(t, emptyStream)

	parents, err := session.GetObjectParents(ctx, report)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, docs.ID, parents[0].ID)

	folderParents, err := session.GetObjectParents(ctx, sub)
	require.NoError(t, err)
	require.Len(t, folderParents, 1)
	assert.Equal(t, docs.ID, folderParents[0].ID)

	_, err = session.GetObjectByPath(ctx, "/docs/missing.txt")
	assert.ErrorIs(t, err, cmis.ErrNotFound)
	assert.False(t, cmis.IsConnectionError(err))
}

func TestClient_CreateUpdateDelete(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	session := connect(t, repo, "", "")

	root, err := session.GetObjectByPath(ctx, "/")
	require.NoError(t, err)

	folder, err := session.CreateFolder(ctx, root, "projects", "")
	require.NoError(t, err)
	assert.True(t, folder.IsFolder())
	assert.True(t, repo.Exists("/projects"))

	var lastDone int64
	content := cmis.NewContentStream("plan.txt", "text/plain", 4, strings.NewReader("v1.0"))
	content.Progress = func(done, total int64) { lastDone = done }
	doc, err := session.CreateDocument(ctx, folder, "plan.txt", "", content)
	require.NoError(t, err)
	assert.Equal(t, "plan.txt", doc.Name)
	assert.EqualValues(t, 4, doc.ContentLength)
	assert.GreaterOrEqual(t, lastDone, int64(0))

	data, err := repo.ReadFile("/projects/plan.txt")
	require.NoError(t, err)
	assert.Equal(t, "v1.0", string(data))

	_, err = session.CreateDocument(ctx, folder, "plan.txt", "", cmis.NewContentStream("plan.txt", "", 1, strings.NewReader("x")))
	assert.ErrorIs(t, err, cmis.ErrConstraint)

	updated, err := session.SetContentStream(ctx, doc, cmis.NewContentStream("plan.txt", "text/plain", 4, strings.NewReader("v2.0")), true)
	require.NoError(t, err)
	assert.True(t, updated.ModTime.After(doc.ModTime))
	data, _ = repo.ReadFile("/projects/plan.txt")
	assert.Equal(t, "v2.0", string(data))

	require.NoError(t, session.DeleteAllVersions(ctx, updated))
	assert.False(t, repo.Exists("/projects/plan.txt"))

	_, err = repo.PutFile("/projects/a/b.txt", []byte("b"))
	require.NoError(t, err)
	require.NoError(t, session.DeleteTree(ctx, folder, true, true))
	assert.False(t, repo.Exists("/projects"))
}

func TestClient_ChangesAndTypes(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	session := connect(t, repo, "", "")

	info, err := session.RepositoryInfo(ctx)
	require.NoError(t, err)

	created, err := repo.PutFile("/c.txt", []byte("c"))
	require.NoError(t, err)
	require.NoError(t, repo.Remove("/c.txt"))

	changes, err := session.GetContentChanges(ctx, info.LatestChangeLogToken, 100)
	require.NoError(t, err)
	require.Len(t, changes.Events, 2)
	assert.Equal(t, created.ID, changes.Events[0].ObjectID)
	assert.Equal(t, cmis.ChangeCreated, changes.Events[0].Type)
	assert.Equal(t, cmis.ChangeDeleted, changes.Events[1].Type)
	assert.Equal(t, "2", changes.LatestToken)
	assert.False(t, changes.HasMore)

	td, err := session.GetTypeDefinition(ctx, cmis.TypeDocument)
	require.NoError(t, err)
	name, ok := td.PropertyDefinitions[cmis.PropName]
	require.True(t, ok)
	assert.Equal(t, cmis.UpdatabilityReadWrite, name.Updatability)
	assert.Equal(t, "Name", name.DisplayName)

	_, err = session.GetTypeDefinition(ctx, "custom:missing")
	assert.ErrorIs(t, err, cmis.ErrNotFound)
}

func TestClient_OfflineRepository(t *testing.T) {
	repo := memrepo.New()
	ctx := context.Background()
	session := connect(t, repo, "", "")

	repo.SetOffline(true)
	_, err := session.GetObjectByPath(ctx, "/")
	assert.True(t, cmis.IsConnectionError(err))
}
