package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrolluniversity/doc-service/internal/collab/lock"
	"github.com/scrolluniversity/doc-service/internal/collab/service"
	"github.com/scrolluniversity/doc-service/internal/collab/store"
	"github.com/scrolluniversity/doc-service/internal/membership"
)

func newTestRouter() *gin.Engine {
	ms := store.NewMemoryStore()
	mem := membership.NewMemoryService()
	mem.Add("grp-1", "alice", membership.RoleMember)
	mem.Add("grp-1", "bob", membership.RoleMember)
	mem.Add("grp-1", "owner", membership.RoleOwner)

	lm := lock.NewManager(ms, 30*time.Minute)
	svc := service.New(ms, lm, mem, nil, service.Options{})

	g := gin.New()
	RegisterDocumentRoutes(g, svc)
	return g
}

func doJSON(g *gin.Engine, method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func createDoc(t *testing.T, g *gin.Engine, content string) string {
	t.Helper()
	w := doJSON(g, http.MethodPost, "/api/groups/grp-1/documents", "alice",
		fmt.Sprintf(`{"title":"notes.md","content":%q}`, content))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	id, ok := doc["id"].(string)
	require.True(t, ok)
	return id
}

func TestCreateUpdateLockFlow(t *testing.T) {
	g := newTestRouter()
	id := createDoc(t, g, "Hello")

	// alice updates with acquireLock -> version 1, locked by alice
	w := doJSON(g, http.MethodPatch, "/api/documents/"+id, "alice", `{"content":"Hello world","acquireLock":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Version  int64 `json:"version"`
		Document struct {
			Lock *struct {
				Holder string `json:"holder"`
			} `json:"lock"`
		} `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Version)
	require.NotNil(t, resp.Document.Lock)
	assert.Equal(t, "alice", resp.Document.Lock.Holder)

	// bob's update is rejected with 409 and nothing changes
	w = doJSON(g, http.MethodPatch, "/api/documents/"+id, "bob", `{"content":"Hi","acquireLock":false}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(g, http.MethodGet, "/api/documents/"+id, "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.EqualValues(t, 1, got["version"])
	assert.Equal(t, "Hello world", got["content"])
}

func TestLockEndpoints(t *testing.T) {
	g := newTestRouter()
	id := createDoc(t, g, "Hello")

	w := doJSON(g, http.MethodPost, "/api/documents/"+id+"/lock", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	// contended lock -> 409
	w = doJSON(g, http.MethodPost, "/api/documents/"+id+"/lock", "bob", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// non-holder unlock -> 409; owner unlock -> 200
	w = doJSON(g, http.MethodDelete, "/api/documents/"+id+"/lock", "bob", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = doJSON(g, http.MethodDelete, "/api/documents/"+id+"/lock", "owner", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	g := newTestRouter()
	id := createDoc(t, g, "v0")

	for i := 1; i <= 3; i++ {
		w := doJSON(g, http.MethodPatch, "/api/documents/"+id, "alice",
			fmt.Sprintf(`{"content":"v%d","acquireLock":false}`, i))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(g, http.MethodGet, "/api/documents/"+id+"/history?limit=10", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 3)
	assert.EqualValues(t, 3, recs[0]["version"])
	assert.EqualValues(t, 2, recs[1]["version"])
	assert.EqualValues(t, 1, recs[2]["version"])

	// pagination cursor
	w = doJSON(g, http.MethodGet, "/api/documents/"+id+"/history?limit=10&beforeVersion=2", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.EqualValues(t, 1, recs[0]["version"])
}

func TestAuthorizationResponses(t *testing.T) {
	g := newTestRouter()
	id := createDoc(t, g, "Hello")

	// non-member -> 403
	w := doJSON(g, http.MethodPatch, "/api/documents/"+id, "mallory", `{"content":"x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// missing identity -> 401
	w = doJSON(g, http.MethodGet, "/api/documents/"+id, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// unknown document -> 404
	w = doJSON(g, http.MethodGet, "/api/documents/doc_missing", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	g := newTestRouter()
	id := createDoc(t, g, "Hello")

	// plain member who isn't the creator -> 403, document stays
	w := doJSON(g, http.MethodDelete, "/api/documents/"+id, "bob", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doJSON(g, http.MethodGet, "/api/documents/"+id, "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// creator -> 204, then gone
	w = doJSON(g, http.MethodDelete, "/api/documents/"+id, "alice", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(g, http.MethodGet, "/api/documents/"+id, "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEndpoint(t *testing.T) {
	g := newTestRouter()
	id := createDoc(t, g, "a")
	createDoc(t, g, "b")

	w := doJSON(g, http.MethodGet, "/api/groups/grp-1/documents", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	found := false
	for _, it := range list {
		if it["id"] == id {
			found = true
			assert.Equal(t, false, it["locked"])
		}
	}
	assert.True(t, found, "created document should appear in list")
}
