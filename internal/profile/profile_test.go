package profile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
)

func writeAvatar(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mp_ffa3.jpg")
	if err := os.WriteFile(path, []byte("\xff\xd8\xff\xe0fake-jpeg"), 0o600); err != nil {
		t.Fatalf("write avatar: %v", err)
	}
	return path
}

func loginCookieValue(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "76561197960265728",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return url.QueryEscape("76561197960265728||" + token)
}

func TestUploadAvatar(t *testing.T) {
	var gotFields map[string]string
	var gotCookie string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != uploadPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotFields = map[string]string{
			"type":      r.FormValue("type"),
			"sId":       r.FormValue("sId"),
			"sessionid": r.FormValue("sessionid"),
		}
		if ck, err := r.Cookie("sessionid"); err == nil {
			gotCookie = ck.Value
		}
		if _, _, err := r.FormFile("avatar"); err != nil {
			t.Errorf("missing avatar file: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"images":{"full":"https://cdn.example/avatar_full.jpg"}}`))
	}))
	defer ts.Close()

	c, err := New(ts.URL, time.Minute, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.SetCookies("sess-1", []string{loginCookie + "=" + loginCookieValue(t, time.Now().Add(time.Hour))}); err != nil {
		t.Fatalf("set cookies: %v", err)
	}
	if exp, ok := c.ExpiresAt(); !ok || exp.Before(time.Now()) {
		t.Fatalf("expected future expiry, got %v %v", exp, ok)
	}

	avatarURL, err := c.UploadAvatar(context.Background(), "76561197960265728", writeAvatar(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if avatarURL != "https://cdn.example/avatar_full.jpg" {
		t.Fatalf("unexpected url %q", avatarURL)
	}
	if gotFields["type"] != "player_avatar_image" || gotFields["sId"] != "76561197960265728" || gotFields["sessionid"] != "sess-1" {
		t.Fatalf("unexpected form fields: %v", gotFields)
	}
	if gotCookie != "sess-1" {
		t.Fatalf("expected session cookie to be sent, got %q", gotCookie)
	}
}

func TestUploadAvatarSessionExpired(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login/home/?goto=", http.StatusFound)
	}))
	defer ts.Close()

	c, err := New(ts.URL, time.Minute, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.UploadAvatar(context.Background(), "76561197960265728", writeAvatar(t)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession before cookies, got %v", err)
	}

	if err := c.SetCookies("sess-1", nil); err != nil {
		t.Fatalf("set cookies: %v", err)
	}
	if _, err := c.UploadAvatar(context.Background(), "76561197960265728", writeAvatar(t)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired from redirect, got %v", err)
	}
}

func TestUploadAvatarExpiredCookieSkipsRequest(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	c, err := New(ts.URL, time.Minute, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	value := loginCookieValue(t, time.Now().Add(-time.Minute))
	if err := c.SetCookies("sess-1", []string{loginCookie + "=" + value}); err != nil {
		t.Fatalf("set cookies: %v", err)
	}

	if _, err := c.UploadAvatar(context.Background(), "76561197960265728", writeAvatar(t)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if called {
		t.Fatalf("no request should be made with an expired cookie")
	}
}

func TestAllowReloginThrottles(t *testing.T) {
	c, err := New("https://community.example", time.Hour, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !c.AllowRelogin() {
		t.Fatalf("first relogin must be allowed")
	}
	if c.AllowRelogin() {
		t.Fatalf("second relogin within the window must be throttled")
	}
}

func TestUploadAvatarReadsGivenFs(t *testing.T) {
	var gotName string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("avatar")
		if err != nil {
			t.Errorf("missing avatar file: %v", err)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotBody, _ = io.ReadAll(f)
		_, _ = w.Write([]byte(`{"success":true,"images":{"full":"https://cdn.example/ffa3.jpg"}}`))
	}))
	defer ts.Close()

	fs := afero.NewMemMapFs()
	path := "/data/levelshots/mp/ffa3.jpg"
	if err := afero.WriteFile(fs, path, []byte("levelshot"), 0o644); err != nil {
		t.Fatalf("write levelshot: %v", err)
	}

	c, err := New(ts.URL, time.Minute, fs, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.SetCookies("sess-1", nil); err != nil {
		t.Fatalf("set cookies: %v", err)
	}
	if _, err := c.UploadAvatar(context.Background(), "76561197960265728", path); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotName != "ffa3.jpg" || string(gotBody) != "levelshot" {
		t.Fatalf("unexpected upload %q %q", gotName, gotBody)
	}

	if _, err := c.UploadAvatar(context.Background(), "76561197960265728", "/data/levelshots/mp/missing.jpg"); err == nil {
		t.Fatalf("expected an error for a file absent from the fs")
	}
}
