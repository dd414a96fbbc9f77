package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	infra "github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/progress"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/result"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/user"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	t    *testing.T
	app  *echo.Echo
	user *user.UserUseCaseImpl
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := driver.NewSQLiteConn("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(ctx) })
	require.NoError(t, driver.Migrate(ctx, conn, user.Schema, progress.Schema, result.Schema))

	cfg := new(infra.AppConfig)
	cfg.Env = infra.EnvProduction
	cfg.SessionTimeout = time.Hour
	cfg.SessionRefresh = time.Minute
	cfg.RequestTimeout = 5 * time.Second
	cfg.Security.JWTMethod = "HS256"
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.TokenName = "edusoluce_token"

	gen := uuid.NewNanoIDGenerator(16)
	userUseCase := user.NewUserUseCase(user.NewUserRepository(conn, gen), 3, time.Hour)
	app := NewApp(conn, driver.NewMemoryKV(), cfg,
		userUseCase,
		progress.NewProgressUseCase(progress.NewProgressRepository(conn, gen)),
		result.NewResultUseCase(result.NewResultRepository(conn, gen)),
		zap.NewNop(),
	)
	return &testServer{t: t, app: app, user: userUseCase}
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.app.ServeHTTP(rec, req)
	return rec
}

// signUp creates the account through the use case so that staff roles can be seeded
func (s *testServer) signUp(username, role string) (id, token string) {
	s.t.Helper()
	created, err := s.user.SignUp(context.Background(), &user.UserModel{
		Username: username, Email: username + "@school.edu", Password: "secret1", Role: role,
	})
	require.NoError(s.t, err)

	rec := s.do(http.MethodPost, "/api/v1/user/login", `{"username":"`+username+`","password":"secret1"}`, "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &body))
	return created.ID, body.Token
}

func TestUserEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/user/sign-up", `{"username":"dana","email":"dana@school.edu","password":"secret1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(http.MethodPost, "/api/v1/user/sign-up", `{"username":"dana","email":"dana@school.edu","password":"secret1"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/user/sign-up", `{"username":"x","email":"not-an-email","password":"1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_params")

	rec = s.do(http.MethodPost, "/api/v1/user/sign-up", `{"username":"eve","email":"eve@school.edu","password":"secret1","role":"administrator"}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/user/exists?email=dana@school.edu", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", strings.TrimSpace(rec.Body.String()))

	rec = s.do(http.MethodGet, "/api/v1/user/exists", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/user/login", `{"username":"dana","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/user/login", `{"username":"dana","password":"secret1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string         `json:"token"`
		User  user.UserModel `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Equal(t, user.RoleStudent, login.User.Role)

	path := "/api/v1/users/" + login.User.ID + "/progress"
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "", login.Token).Code)

	rec = s.do(http.MethodPut, "/api/v1/user/sign-out", "", login.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, path, "", login.Token).Code)
}

func TestProgressEndpoints(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.signUp("alice", user.RoleStudent)
	_, bob := s.signUp("bob", user.RoleStudent)
	_, teacher := s.signUp("tina", user.RoleTeacher)
	base := "/api/v1/users/" + aliceID + "/progress"

	rec := s.do(http.MethodPost, base, `{"id":"temp_x1","moduleId":"m1","moduleTitle":"FERPA","status":"in-progress"}`, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved []progress.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.Len(t, saved, 1)
	assert.False(t, uuid.IsTemp(saved[0].ID))
	assert.Equal(t, aliceID, saved[0].UserID)
	firstID := saved[0].ID

	rec = s.do(http.MethodPost, base, `[{"moduleId":"m1","progress":20},{"moduleId":"m2","status":"completed"}]`, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.Len(t, saved, 2)
	assert.Equal(t, firstID, saved[0].ID, "same module keeps its id")
	assert.Equal(t, progress.InProgress, saved[0].Status)

	rec = s.do(http.MethodGet, base, "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []progress.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = s.do(http.MethodPatch, base+"/"+saved[0].ID, `{"progress":50}`, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated progress.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, 50, updated.Progress)

	rec = s.do(http.MethodPatch, base+"/missing", `{"progress":50}`, alice)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Progress not found")

	rec = s.do(http.MethodPatch, base+"/"+saved[0].ID, `{"progress":"half"}`, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPatch, base+"/"+saved[0].ID, `{"moduleId":"m2"}`, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "moduleId can not be changed")

	rec = s.do(http.MethodPost, base, `[{"moduleId":"m3","progress":150}]`, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "[0].progress")

	rec = s.do(http.MethodPost, base, `[]`, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, base, "", "").Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, base, "", bob).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, base, "", teacher).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, base, `{"moduleId":"m9"}`, teacher).Code)
}

func TestResultEndpoints(t *testing.T) {
	s := newTestServer(t)
	id, token := s.signUp("ruth", user.RoleStudent)
	base := "/api/v1/users/" + id + "/results"

	rec := s.do(http.MethodPost, base, `{"id":"temp_r","assessmentId":"a1","areaId":"gov","score":82,"level":"proficient"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved []*result.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.Len(t, saved, 1)
	assert.False(t, saved[0].CompletedAt.IsZero())

	rec = s.do(http.MethodPatch, base+"/"+saved[0].ID, `{"score":90}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, base, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*result.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, float64(90), list[0].Extra["score"])
	assert.Equal(t, "proficient", list[0].Extra["level"])

	rec = s.do(http.MethodPost, base, `{"areaId":"gov"}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzAndNotFound(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", "").Code)

	rec := s.do(http.MethodGet, "/api/v1/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":404`)
}

func TestPresence(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.app)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws/presence", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
}

type stubRecordHandler struct{}

func (stubRecordHandler) HandleList(c echo.Context) error   { return c.String(http.StatusOK, "list") }
func (stubRecordHandler) HandleSave(c echo.Context) error   { return c.String(http.StatusOK, "save") }
func (stubRecordHandler) HandleUpdate(c echo.Context) error { return c.String(http.StatusOK, c.Param("id")) }

func TestCreateEndpoint(t *testing.T) {
	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	deny := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error { return c.NoContent(http.StatusForbidden) }
	}
	app := echo.New()
	createEndpoint(app, &endpoint{
		apiVersion: "/api/v2",
		groups: []*apiGroup{{
			prefix: "/users/:user_id",
			routes: recordRoutes("notes", stubRecordHandler{}, pass, deny),
		}},
	})

	tests := []struct {
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{http.MethodGet, "/api/v2/users/u1/notes", http.StatusOK, "list"},
		{http.MethodPost, "/api/v2/users/u1/notes", http.StatusForbidden, ""},
		{http.MethodPatch, "/api/v2/users/u1/notes/n1", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}

	assert.Panics(t, func() {
		createEndpoint(echo.New(), &endpoint{apiVersion: "v1", groups: []*apiGroup{{
			routes: []*route{{"TRACE", "/x", stubRecordHandler{}.HandleList, nil}},
		}}})
	})
}
