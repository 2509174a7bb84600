package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vazana/studio/internal/auth"
	"github.com/vazana/studio/internal/shared"
	_ "github.com/vazana/studio/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

// sessionMiddleware loads and commits the session around each request the
// way the application stack does.
func sessionMiddleware(sm *shared.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sm.Load(r.Context(), r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			ctx := shared.ContextWithSession(r.Context(), sess)
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if err := sm.Commit(ctx, w, sess); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	}
}

func newAuthRouter(t *testing.T, repo *stubRepo) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	handler := auth.NewHandler(nil, auth.NewService(repo), sessionManager)
	r := chi.NewRouter()
	r.Use(sessionMiddleware(sessionManager))
	r.Route("/auth", handler.MountRoutes)
	return r
}

func activeUser(t *testing.T) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword("correctpass")
	require.NoError(t, err)
	return &auth.User{ID: 1, Email: "office@vazana.test", Name: "משרד", PasswordHash: hash, IsActive: true}
}

func post(router http.Handler, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func get(router http.Handler, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestLoginMeLogout(t *testing.T) {
	repo := &stubRepo{user: activeUser(t)}
	router := newAuthRouter(t, repo)

	login := post(router, "/auth/login", `{"email":"office@vazana.test","password":"correctpass"}`, nil)
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	assert.NotContains(t, login.Body.String(), "passwordHash")
	cookies := login.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Len(t, repo.sessions, 1)

	me := get(router, "/auth/me", cookies)
	require.Equal(t, http.StatusOK, me.Code)
	var body struct {
		User auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &body))
	assert.Equal(t, "office@vazana.test", body.User.Email)

	logout := post(router, "/auth/logout", "", cookies)
	assert.Equal(t, http.StatusNoContent, logout.Code)
	assert.Empty(t, repo.sessions)

	after := get(router, "/auth/me", cookies)
	assert.Equal(t, http.StatusUnauthorized, after.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	router := newAuthRouter(t, &stubRepo{user: activeUser(t)})

	res := post(router, "/auth/login", `{"email":"office@vazana.test","password":"wrongpass"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Contains(t, res.Body.String(), "invalid email or password")
	assert.Empty(t, res.Result().Cookies())
}

func TestLoginInactiveUser(t *testing.T) {
	user := activeUser(t)
	user.IsActive = false
	router := newAuthRouter(t, &stubRepo{user: user})

	res := post(router, "/auth/login", `{"email":"office@vazana.test","password":"correctpass"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginValidation(t *testing.T) {
	router := newAuthRouter(t, &stubRepo{})

	res := post(router, "/auth/login", `{"email":"not-an-email","password":"short"}`, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	var body struct {
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, "email", body.Details["Email"])
	assert.Equal(t, "min", body.Details["Password"])
}

func TestRequireUser(t *testing.T) {
	called := false
	h := auth.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.False(t, called)
}
