package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/scoreforge/scoreforge/internal/api"
	"github.com/scoreforge/scoreforge/internal/api/handler"
	mw "github.com/scoreforge/scoreforge/internal/api/middleware"
	"github.com/scoreforge/scoreforge/internal/cache"
	"github.com/scoreforge/scoreforge/internal/credential"
	"github.com/scoreforge/scoreforge/internal/ingest"
	"github.com/scoreforge/scoreforge/internal/ledger"
	"github.com/scoreforge/scoreforge/internal/metrics"
	"github.com/scoreforge/scoreforge/internal/project"
	"github.com/scoreforge/scoreforge/internal/ranking"
	"github.com/scoreforge/scoreforge/internal/session"
	"github.com/scoreforge/scoreforge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test server ─────────────────────────────────────────────────────────────

type testServer struct {
	t      *testing.T
	router http.Handler
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	verifier, err := session.NewJWTVerifier("contract-secret")
	require.NoError(t, err)

	st := store.NewMemoryStore()
	m := metrics.New()
	projects := project.NewRegistry(st, rc)
	keys, err := credential.NewService(st, bcrypt.MinCost)
	require.NoError(t, err)
	scores := ledger.New(st, rc, ledger.DefaultLimits)
	gateway := ingest.New(projects, keys, scores, m, time.Second)
	engine := ranking.NewEngine(st, rc, ranking.Options{MaxLimit: 100, CacheTTL: 5 * time.Second})

	router := api.NewRouter(api.Dependencies{
		Auth:           mw.NewAuth(verifier),
		RateLimit:      mw.NewRateLimit(rc, 600, m),
		Metrics:        m,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,

		CreateProject: handler.NewCreateProjectHandler(projects),
		ListProjects:  handler.NewListProjectsHandler(projects),
		GetProject:    handler.NewGetProjectHandler(projects),
		DeleteProject: handler.NewDeleteProjectHandler(projects),

		IssueKey:    handler.NewIssueKeyHandler(projects, keys),
		RotateKey:   handler.NewRotateKeyHandler(projects, keys),
		RevokeKey:   handler.NewRevokeKeyHandler(projects, keys),
		DescribeKey: handler.NewDescribeKeyHandler(projects, keys),

		SubmitScore:       handler.NewSubmitScoreHandler(gateway),
		LegacySubmitScore: handler.NewLegacySubmitHandler(gateway),
		Leaderboard:       handler.NewLeaderboardHandler(engine, 20),
		PlayerRank:        handler.NewPlayerRankHandler(engine),
		PlayerScore:       handler.NewPlayerScoreHandler(projects, scores),
	})

	tokens := make(map[string]string)
	for _, owner := range []string{"owner-1", "owner-2"} {
		tok, err := verifier.Sign(owner, time.Hour)
		require.NoError(t, err)
		tokens[owner] = tok
	}
	return &testServer{t: t, router: router, tokens: tokens}
}

type call struct {
	method string
	path   string
	body   any
	owner  string
	apiKey string
}

func (s *testServer) do(c call) *httptest.ResponseRecorder {
	s.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		switch b := c.body.(type) {
		case string:
			body.WriteString(b)
		default:
			require.NoError(s.t, json.NewEncoder(&body).Encode(b))
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.owner != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[c.owner])
	}
	if c.apiKey != "" {
		req.Header.Set(mw.APIKeyHeader, c.apiKey)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func (s *testServer) createProject(owner, name, order string) string {
	s.t.Helper()
	body := map[string]string{"name": name}
	if order != "" {
		body["score_order"] = order
	}
	w := s.do(call{method: "POST", path: "/projects", body: body, owner: owner})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](s.t, w)["id"].(string)
}

func (s *testServer) issueKey(owner, projectID string) string {
	s.t.Helper()
	w := s.do(call{method: "POST", path: "/projects/" + projectID + "/keys", owner: owner})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](s.t, w)["api_key"].(string)
}

func (s *testServer) submit(projectID, key, username string, value float64) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.do(call{
		method: "POST",
		path:   "/projects/" + projectID + "/scores",
		body:   map[string]any{"username": username, "value": value},
		apiKey: key,
	})
}

// ─── projects ────────────────────────────────────────────────────────────────

func TestContract_Projects(t *testing.T) {
	s := newTestServer(t)

	w := s.do(call{method: "POST", path: "/projects", body: map[string]string{"name": "Space Race"}, owner: "owner-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[map[string]any](t, w)
	assert.Equal(t, "Space Race", created["name"])
	assert.Equal(t, "owner-1", created["owner_id"])
	assert.Equal(t, "desc", created["score_order"])
	id := created["id"].(string)

	second := s.createProject("owner-1", "Speedrun", "asc")
	s.createProject("owner-2", "Someone else's", "")

	w = s.do(call{method: "GET", path: "/projects", owner: "owner-1"})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]map[string]any](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, second, list[1]["id"])

	w = s.do(call{method: "GET", path: "/projects/" + id, owner: "owner-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(call{method: "GET", path: "/projects/" + id, owner: "owner-2"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decode[map[string]string](t, w)["code"])

	w = s.do(call{method: "DELETE", path: "/projects/" + id, owner: "owner-2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(call{method: "DELETE", path: "/projects/" + id, owner: "owner-1"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(call{method: "GET", path: "/projects/" + id, owner: "owner-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContract_ProjectValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"blank name", map[string]string{"name": "  "}},
		{"bad order", map[string]string{"name": "Game", "score_order": "up"}},
		{"unknown field", map[string]string{"name": "Game", "owner_id": "owner-2"}},
		{"malformed json", "{"},
		{"empty body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(call{method: "POST", path: "/projects", body: tt.body, owner: "owner-1"})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_ARGUMENT", decode[map[string]string](t, w)["code"])
		})
	}
}

func TestContract_DashboardRequiresSession(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/projects"},
		{"GET", "/projects"},
		{"GET", "/projects/" + id},
		{"DELETE", "/projects/" + id},
		{"POST", "/projects/" + id + "/keys"},
		{"GET", "/projects/" + id + "/keys"},
		{"DELETE", "/projects/" + id + "/keys"},
		{"POST", "/projects/" + id + "/keys/rotate"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := s.do(call{method: ep.method, path: ep.path})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "AUTH_FAILURE", decode[map[string]string](t, w)["code"])
		})
	}
}

// ─── keys ────────────────────────────────────────────────────────────────────

func TestContract_KeyLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")

	w := s.do(call{method: "POST", path: "/projects/" + id + "/keys", owner: "owner-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	issued := decode[map[string]any](t, w)
	assert.Equal(t, id, issued["project_id"])
	key := issued["api_key"].(string)
	assert.True(t, strings.HasPrefix(key, issued["prefix"].(string)))

	w = s.do(call{method: "POST", path: "/projects/" + id + "/keys", owner: "owner-1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(call{method: "POST", path: "/projects/" + id + "/keys", owner: "owner-2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(call{method: "GET", path: "/projects/" + id + "/keys", owner: "owner-1"})
	require.Equal(t, http.StatusOK, w.Code)
	meta := decode[map[string]any](t, w)
	assert.Equal(t, issued["prefix"], meta["key_prefix"])
	assert.Equal(t, "active", meta["status"])
	assert.NotContains(t, w.Body.String(), "key_hash")
	assert.NotContains(t, w.Body.String(), key)

	assert.Equal(t, http.StatusOK, s.submit(id, key, "alice", 1).Code)

	w = s.do(call{method: "POST", path: "/projects/" + id + "/keys/rotate", owner: "owner-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	rotated := decode[map[string]any](t, w)["api_key"].(string)
	assert.NotEqual(t, key, rotated)

	assert.Equal(t, http.StatusUnauthorized, s.submit(id, key, "alice", 2).Code, "old key is dead immediately")
	assert.Equal(t, http.StatusOK, s.submit(id, rotated, "alice", 2).Code)

	w = s.do(call{method: "DELETE", path: "/projects/" + id + "/keys", owner: "owner-1"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.submit(id, rotated, "alice", 3).Code)

	w = s.do(call{method: "POST", path: "/projects/" + id + "/keys/rotate", owner: "owner-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.issueKey("owner-1", id)
}

// ─── scores ──────────────────────────────────────────────────────────────────

func TestContract_SubmitScore(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")
	key := s.issueKey("owner-1", id)

	w := s.submit(id, key, "alice", 42)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":true,"current_best":42}`, w.Body.String())
	assert.Equal(t, "600", w.Header().Get("X-RateLimit-Limit"))

	w = s.submit(id, key, "alice", 40)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":false,"current_best":42}`, w.Body.String())

	w = s.do(call{method: "POST", path: "/scores/submit", body: map[string]any{"username": "bob", "value": 50}, apiKey: key})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":true,"current_best":50}`, w.Body.String())
}

func TestContract_SubmitScoreRejections(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")
	key := s.issueKey("owner-1", id)
	otherID := s.createProject("owner-2", "Other", "")
	otherKey := s.issueKey("owner-2", otherID)

	tests := []struct {
		name       string
		path       string
		body       any
		apiKey     string
		wantStatus int
		wantCode   string
	}{
		{"no key", "/projects/" + id + "/scores", map[string]any{"username": "a", "value": 1}, "", http.StatusUnauthorized, "AUTH_FAILURE"},
		{"malformed key", "/projects/" + id + "/scores", map[string]any{"username": "a", "value": 1}, "nope", http.StatusUnauthorized, "AUTH_FAILURE"},
		{"other project's key", "/projects/" + id + "/scores", map[string]any{"username": "a", "value": 1}, otherKey, http.StatusUnauthorized, "AUTH_FAILURE"},
		{"unknown project", "/projects/6f1c29a4-3b52-4c1e-9a77-0d3f5e2b8c11/scores", map[string]any{"username": "a", "value": 1}, key, http.StatusUnauthorized, "AUTH_FAILURE"},
		{"invalid project id", "/projects/not-a-uuid/scores", map[string]any{"username": "a", "value": 1}, key, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing value", "/projects/" + id + "/scores", map[string]any{"username": "a"}, key, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"string value", "/projects/" + id + "/scores", `{"username":"a","value":"10"}`, key, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"blank username", "/projects/" + id + "/scores", map[string]any{"username": " ", "value": 1}, key, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"out of range", "/projects/" + id + "/scores", map[string]any{"username": "a", "value": 1e13}, key, http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(call{method: "POST", path: tt.path, body: tt.body, apiKey: tt.apiKey})
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[map[string]string](t, w)["code"])
		})
	}

	w := s.do(call{method: "GET", path: "/scores/leaderboard/" + id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String(), "nothing rejected was written")
}

// ─── leaderboard ─────────────────────────────────────────────────────────────

func TestContract_Leaderboard(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")
	key := s.issueKey("owner-1", id)

	require.Equal(t, http.StatusOK, s.submit(id, key, "bob", 100).Code)
	time.Sleep(2 * time.Millisecond)
	require.Equal(t, http.StatusOK, s.submit(id, key, "alice", 100).Code)
	require.Equal(t, http.StatusOK, s.submit(id, key, "carol", 30).Code)

	w := s.do(call{method: "GET", path: "/scores/leaderboard/" + id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"username":"bob","value":100},{"username":"alice","value":100},{"username":"carol","value":30}]`, w.Body.String())

	w = s.do(call{method: "GET", path: "/scores/leaderboard/" + id + "?limit=1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"username":"bob","value":100}]`, w.Body.String())

	// A new best is visible immediately despite the cached view.
	require.Equal(t, http.StatusOK, s.submit(id, key, "carol", 500).Code)
	w = s.do(call{method: "GET", path: "/scores/leaderboard/" + id + "?limit=1"})
	assert.JSONEq(t, `[{"username":"carol","value":500}]`, w.Body.String())

	for _, bad := range []string{"0", "-3", "ten"} {
		w = s.do(call{method: "GET", path: "/scores/leaderboard/" + id + "?limit=" + bad})
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
	}

	w = s.do(call{method: "GET", path: "/scores/leaderboard/6f1c29a4-3b52-4c1e-9a77-0d3f5e2b8c11"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(call{method: "GET", path: "/scores/leaderboard/" + id + "/players/alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"alice","value":100,"rank":3}`, w.Body.String())

	w = s.do(call{method: "GET", path: "/scores/leaderboard/" + id + "/players/" + url.PathEscape("nobody")})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContract_LeaderboardClampsLimit(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")
	key := s.issueKey("owner-1", id)

	for i := 0; i < 105; i++ {
		require.Equal(t, http.StatusOK, s.submit(id, key, fmt.Sprintf("p%03d", i), float64(i)).Code)
	}

	w := s.do(call{method: "GET", path: "/scores/leaderboard/" + id + "?limit=1000"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 100)

	w = s.do(call{method: "GET", path: "/scores/leaderboard/" + id})
	assert.Len(t, decode[[]map[string]any](t, w), 20, "default limit")
}

func TestContract_PlayerScoreRecord(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")
	key := s.issueKey("owner-1", id)
	require.Equal(t, http.StatusOK, s.submit(id, key, "alice", 42).Code)
	require.Equal(t, http.StatusOK, s.submit(id, key, "alice", 7).Code)

	w := s.do(call{method: "GET", path: "/projects/" + id + "/scores/alice", owner: "owner-1"})
	require.Equal(t, http.StatusOK, w.Code)
	record := decode[map[string]any](t, w)
	assert.Equal(t, "alice", record["username"])
	assert.Equal(t, 42.0, record["value"])
	assert.Equal(t, id, record["project_id"])
	assert.NotEmpty(t, record["submitted_at"])

	w = s.do(call{method: "GET", path: "/projects/" + id + "/scores/ghost", owner: "owner-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(call{method: "GET", path: "/projects/" + id + "/scores/alice", owner: "owner-2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(call{method: "GET", path: "/projects/" + id + "/scores/alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestContract_DeleteProjectRemovesScores(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")
	key := s.issueKey("owner-1", id)
	require.Equal(t, http.StatusOK, s.submit(id, key, "alice", 1).Code)

	w := s.do(call{method: "GET", path: "/scores/leaderboard/" + id})
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, http.StatusNoContent, s.do(call{method: "DELETE", path: "/projects/" + id, owner: "owner-1"}).Code)

	w = s.do(call{method: "GET", path: "/scores/leaderboard/" + id})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.submit(id, key, "alice", 2).Code)
}

func TestContract_Metrics(t *testing.T) {
	s := newTestServer(t)
	id := s.createProject("owner-1", "Game", "")
	key := s.issueKey("owner-1", id)
	require.Equal(t, http.StatusOK, s.submit(id, key, "alice", 1).Code)

	w := s.do(call{method: "GET", path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `scoreforge_score_submissions_total{outcome="accepted"} 1`)
	assert.Contains(t, w.Body.String(), `route="/projects/{projectID}/scores"`)
}

func TestContract_CORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
