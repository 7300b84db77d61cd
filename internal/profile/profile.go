// Package profile talks to the community web site to change the bot's avatar.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/serverbot/internal/presence"
)

const (
	uploadPath        = "/actions/FileUploader/"
	loginCookie       = "steamLoginSecure"
	maxAvatarFileSize = 1 << 20
)

var (
	// ErrSessionExpired means the web session cookies are no longer accepted.
	ErrSessionExpired = errors.New("web session expired")
	// ErrNoSession is returned when no cookies have been set yet.
	ErrNoSession = errors.New("no web session")
)

// Client uploads avatars using the cookies of a web session.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	fs      afero.Fs
	log     *zerolog.Logger
	relogin *rate.Limiter
	now     func() time.Time

	mu        sync.Mutex
	sessionID string
	expiresAt time.Time
}

// New creates a profile client for baseURL. Avatar files are read from fs (the
// OS file system when nil). Relogins are throttled to one per reloginEvery.
func New(baseURL string, reloginEvery time.Duration, fs afero.Fs, logger *zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if reloginEvery <= 0 {
		reloginEvery = time.Minute
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		fs:      fs,
		log:     logger,
		relogin: rate.NewLimiter(rate.Every(reloginEvery), 1),
		now:     time.Now,
	}, nil
}

// SetCookies installs the cookies of a freshly established web session.
func (c *Client) SetCookies(sessionID string, cookies []string) error {
	var parsed []*http.Cookie
	for _, raw := range cookies {
		line, err := http.ParseCookie(raw)
		if err != nil {
			return fmt.Errorf("parse cookie: %w", err)
		}
		parsed = append(parsed, line...)
	}
	if sessionID != "" {
		parsed = append(parsed, &http.Cookie{Name: "sessionid", Value: sessionID})
	}

	var expiresAt time.Time
	for _, ck := range parsed {
		if ck.Name == loginCookie {
			if exp, ok := loginCookieExpiry(ck.Value); ok {
				expiresAt = exp
			}
		}
	}

	c.http.Jar.SetCookies(c.baseURL, parsed)

	c.mu.Lock()
	c.sessionID = sessionID
	c.expiresAt = expiresAt
	c.mu.Unlock()
	return nil
}

// ExpiresAt returns the expiry encoded in the login cookie, if any.
func (c *Client) ExpiresAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt, !c.expiresAt.IsZero()
}

// AllowRelogin reports whether a web relogin may be requested now.
func (c *Client) AllowRelogin() bool {
	return c.relogin.Allow()
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Images  struct {
		Full string `json:"full"`
	} `json:"images"`
}

// UploadAvatar uploads the image at path as the avatar of self and returns its URL.
func (c *Client) UploadAvatar(ctx context.Context, self presence.ID, path string) (string, error) {
	c.mu.Lock()
	sessionID, expiresAt := c.sessionID, c.expiresAt
	c.mu.Unlock()

	if sessionID == "" {
		return "", ErrNoSession
	}
	if !expiresAt.IsZero() && !c.now().Before(expiresAt) {
		return "", ErrSessionExpired
	}

	body, contentType, err := buildUploadForm(c.fs, self, sessionID, path)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL.String() + uploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrSessionExpired
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if strings.Contains(resp.Header.Get("Location"), "/login") {
			return "", ErrSessionExpired
		}
		return "", fmt.Errorf("upload avatar: unexpected redirect to %q", resp.Header.Get("Location"))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload avatar: status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("upload avatar: %s", out.Message)
	}

	if c.log != nil {
		c.log.Debug().Str("path", path).Str("url", out.Images.Full).Msg("avatar uploaded")
	}
	return out.Images.Full, nil
}

func buildUploadForm(fs afero.Fs, self presence.ID, sessionID, path string) (*bytes.Buffer, string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open avatar: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fields := [][2]string{
		{"MAX_FILE_SIZE", fmt.Sprint(maxAvatarFileSize)},
		{"type", "player_avatar_image"},
		{"sId", string(self)},
		{"sessionid", sessionID},
		{"doSub", "1"},
		{"json", "1"},
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", kv[0], err)
		}
	}

	part, err := w.CreateFormFile("avatar", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, io.LimitReader(f, maxAvatarFileSize+1)); err != nil {
		return nil, "", fmt.Errorf("copy avatar: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

// loginCookieExpiry reads the exp claim of the token inside a steamLoginSecure
// value ("<steamid>||<jwt>", usually URL-encoded). The signature is not checked.
func loginCookieExpiry(value string) (time.Time, bool) {
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}
	token := value
	if i := strings.Index(value, "||"); i >= 0 {
		token = value[i+2:]
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
