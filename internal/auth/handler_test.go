package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/projectdesk/projectdesk/internal/auth"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
	_ "github.com/projectdesk/projectdesk/testing"
)

type stubRepo struct {
	mu       sync.Mutex
	users    map[string]*auth.User
	sessions map[string]int64
	nextID   int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: map[string]*auth.User{}, sessions: map[string]int64{}}
}

func (s *stubRepo) add(t *testing.T, email, password string, status users.Status) *auth.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := &auth.User{ID: s.nextID, Email: email, Name: email, PasswordHash: string(hash), Status: status}
	s.users[email] = u
	return u
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) CreateUser(ctx context.Context, email, name, hash string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	if _, ok := s.users[email]; ok {
		return nil, shared.ErrConflict
	}
	s.nextID++
	u := &auth.User{ID: s.nextID, Email: email, Name: name, PasswordHash: hash, Status: users.StatusPending}
	s.users[email] = u
	return u, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *stubRepo) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type adminSet map[int64]bool

func (a adminSet) IsAdminLike(_ context.Context, userID int64) bool { return a[userID] }

type fixture struct {
	handler  *auth.Handler
	service  *auth.Service
	sessions *shared.SessionManager
	repo     *stubRepo
	admins   adminSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessionManager := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	repo := newStubRepo()
	admins := adminSet{}
	service := auth.NewService(repo, admins, nil, auth.WithBcryptCost(bcrypt.MinCost))
	return &fixture{
		handler:  auth.NewHandler(nil, service, sessionManager, csrfManager),
		service:  service,
		sessions: sessionManager,
		repo:     repo,
		admins:   admins,
	}
}

func (f *fixture) serve(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	sess, err := f.sessions.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	w := &committingWriter{ResponseWriter: res, t: t, ctx: ctx, sessions: f.sessions, sess: sess}
	router := chi.NewRouter()
	router.Route("/auth", f.handler.MountRoutes)
	router.ServeHTTP(w, req)
	w.commit()
	return res, sess
}

// committingWriter commits the session before the first header write, since
// the recorder ignores header changes made after it.
type committingWriter struct {
	http.ResponseWriter
	t         *testing.T
	ctx       context.Context
	sessions  *shared.SessionManager
	sess      *shared.Session
	committed bool
}

func (w *committingWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if err := w.sessions.Commit(w.ctx, w.ResponseWriter, w.sess); err != nil {
		w.t.Fatalf("commit session: %v", err)
	}
}

func (w *committingWriter) WriteHeader(status int) {
	w.commit()
	w.ResponseWriter.WriteHeader(status)
}

func (w *committingWriter) Write(data []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(data)
}

func TestSignupCreatesPendingAccount(t *testing.T) {
	f := newFixture(t)
	res, _ := f.serve(t, http.MethodPost, "/auth/signup", `{"email":"New@Example.com","name":"New","password":"password123"}`)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Body.String(), `"status":"pending"`) {
		t.Fatalf("expected pending status in body: %s", res.Body.String())
	}

	res, _ = f.serve(t, http.MethodPost, "/auth/signup", `{"email":"new@example.com","name":"Again","password":"password123"}`)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", res.Code)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	f := newFixture(t)
	res, _ := f.serve(t, http.MethodPost, "/auth/signup", `{"email":"a@example.com","name":"A","password":"short"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "user@example.com", "password123", users.StatusApproved)

	res, sess := f.serve(t, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"wrongpass1"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if sess.User() != "" {
		t.Fatalf("session must stay anonymous")
	}
}

func TestLoginSuccessBindsSession(t *testing.T) {
	f := newFixture(t)
	user := f.repo.add(t, "user@example.com", "password123", users.StatusApproved)

	res, sess := f.serve(t, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"password123"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.User() != "1" || user.ID != 1 {
		t.Fatalf("expected session bound to user 1, got %q", sess.User())
	}
	if _, ok := f.repo.sessions[sess.ID]; !ok {
		t.Fatalf("expected session registered")
	}
	if !strings.Contains(res.Body.String(), "csrf_token") {
		t.Fatalf("expected csrf token in response")
	}
	var found bool
	for _, c := range res.Result().Cookies() {
		if c.Name == "test_session" && c.Value == sess.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected session cookie to be set")
	}
}

func TestLoginPendingUserRejectedUnlessAdmin(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "pending@example.com", "password123", users.StatusPending)
	admin := f.repo.add(t, "boss@example.com", "password123", users.StatusPending)
	f.admins[admin.ID] = true

	res, _ := f.serve(t, http.MethodPost, "/auth/login", `{"email":"pending@example.com","password":"password123"}`)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for pending user, got %d", res.Code)
	}

	res, _ = f.serve(t, http.MethodPost, "/auth/login", `{"email":"boss@example.com","password":"password123"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected admin to log in while pending, got %d", res.Code)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newFixture(t)
	res, _ := f.serve(t, http.MethodPost, "/auth/logout", ``)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	var cleared bool
	for _, c := range res.Result().Cookies() {
		if c.Name == "test_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected session cookie cleared")
	}
}

func TestRequireApproved(t *testing.T) {
	f := newFixture(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	guarded := f.service.RequireApproved(ok)

	cases := []struct {
		name   string
		id     *shared.Identity
		admin  bool
		expect int
	}{
		{name: "anonymous", expect: http.StatusUnauthorized},
		{name: "pending", id: &shared.Identity{UserID: 5, Status: "pending"}, expect: http.StatusForbidden},
		{name: "approved", id: &shared.Identity{UserID: 6, Status: "approved"}, expect: http.StatusOK},
		{name: "pending admin", id: &shared.Identity{UserID: 7, Status: "pending"}, admin: true, expect: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/projects", nil)
			if tc.id != nil {
				req = req.WithContext(shared.ContextWithIdentity(req.Context(), *tc.id))
				f.admins[tc.id.UserID] = tc.admin
			}
			res := httptest.NewRecorder()
			guarded.ServeHTTP(res, req)
			if res.Code != tc.expect {
				t.Fatalf("expected %d, got %d", tc.expect, res.Code)
			}
		})
	}
}

func TestIdentityMiddlewareResolvesSessionUser(t *testing.T) {
	f := newFixture(t)
	user := f.repo.add(t, "user@example.com", "password123", users.StatusApproved)

	var got shared.Identity
	var resolved bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, resolved = shared.IdentityFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := f.sessions.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("1")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	f.service.Identity(next).ServeHTTP(httptest.NewRecorder(), req)
	if !resolved || got.UserID != user.ID || !got.Approved() {
		t.Fatalf("expected approved identity for user %d, got %+v", user.ID, got)
	}

	sess.SetUser("999")
	resolved = false
	f.service.Identity(next).ServeHTTP(httptest.NewRecorder(), req)
	if resolved {
		t.Fatalf("unknown user must stay anonymous")
	}
}
