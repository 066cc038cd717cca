package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "pd_session", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.SetUser("42")
	sess.Set("k", "v")
	rec := httptest.NewRecorder()
	if err := sm.Commit(ctx, rec, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !mr.Exists("session:" + sess.ID) {
		t.Fatalf("expected session stored in redis")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != sess.ID || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.User() != "42" || loaded.Get("k") != "v" {
		t.Fatalf("unexpected session contents: user=%q k=%q", loaded.User(), loaded.Get("k"))
	}
}

func TestSessionUnknownIDIsNotAdopted(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "pd_session", Value: "attacker-chosen"})

	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.ID == "attacker-chosen" {
		t.Fatalf("session id from unknown cookie must not be reused")
	}
}

func TestSessionRotateAndDestroy(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, _ := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.Set("k", "v")
	if err := sm.Commit(ctx, httptest.NewRecorder(), sess); err != nil {
		t.Fatalf("commit: %v", err)
	}
	oldID := sess.ID

	if err := sm.Rotate(ctx, sess); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if sess.ID == oldID {
		t.Fatalf("rotate kept the old id")
	}
	if mr.Exists("session:" + oldID) {
		t.Fatalf("rotate left the old session behind")
	}
	if err := sm.Commit(ctx, httptest.NewRecorder(), sess); err != nil {
		t.Fatalf("commit rotated: %v", err)
	}

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	if err := sm.Commit(ctx, rec, sess); err != nil {
		t.Fatalf("commit destroyed: %v", err)
	}
	if mr.Exists("session:" + sess.ID) {
		t.Fatalf("destroyed session still stored")
	}
	if cookies := rec.Result().Cookies(); len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}

func TestCSRFTokens(t *testing.T) {
	m := NewCSRFManager("secret")
	ctx := context.Background()
	sess := &Session{ID: "abc"}

	if err := m.VerifyToken(ctx, sess, "x"); err != ErrCSRFTokenMissing {
		t.Fatalf("expected missing token error, got %v", err)
	}
	token, err := m.EnsureToken(ctx, sess)
	if err != nil || token == "" {
		t.Fatalf("ensure token: %q %v", token, err)
	}
	again, _ := m.EnsureToken(ctx, sess)
	if again != token {
		t.Fatalf("token should be stable within a session")
	}
	if err := m.VerifyToken(ctx, sess, token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := m.VerifyToken(ctx, sess, token+"x"); err != ErrCSRFTokenMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := m.VerifyToken(ctx, sess, ""); err != ErrCSRFTokenMissing {
		t.Fatalf("expected missing for empty header, got %v", err)
	}
}

func TestAdminRoleName(t *testing.T) {
	cases := map[string]bool{
		"admin":         true,
		" ADMIN ":       true,
		"Admin":         true,
		"administrator": false,
		"":              false,
	}
	for name, want := range cases {
		if got := IsAdminRoleName(name); got != want {
			t.Fatalf("IsAdminRoleName(%q) = %v, want %v", name, got, want)
		}
	}
	if FoldName(" Assign_Members ") != FeatureAssignMembers {
		t.Fatalf("FoldName should trim and fold case")
	}
}
