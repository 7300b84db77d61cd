package core

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"

	"github.com/vovakirdan/serverbot/internal/config"
	"github.com/vovakirdan/serverbot/internal/presence"
	"github.com/vovakirdan/serverbot/internal/query"
)

const (
	selfID  = presence.ID("76561197960265728")
	adminID = presence.ID("76561197960287930")
	userID  = presence.ID("76561198000000001")
)

type chatMsg struct {
	to   presence.ID
	text string
}

type fakePresence struct {
	mu        sync.Mutex
	logOns    int
	logOffs   int
	personas  []string
	chats     []chatMsg
	added     []presence.ID
	removed   []presence.ID
	webLogOns int
	events    chan presence.Event
}

func newFakePresence() *fakePresence {
	return &fakePresence{events: make(chan presence.Event, 16)}
}

func (f *fakePresence) LogOn(presence.LogOnDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logOns++
}

func (f *fakePresence) LogOff() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logOffs++
}

func (f *fakePresence) SetPersona(_ presence.PersonaState, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.personas = append(f.personas, name)
}

func (f *fakePresence) ChatMessage(to presence.ID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatMsg{to: to, text: text})
}

func (f *fakePresence) AddFriend(id presence.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, id)
}

func (f *fakePresence) RemoveFriend(id presence.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

func (f *fakePresence) WebLogOn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webLogOns++
}

func (f *fakePresence) Events() <-chan presence.Event {
	return f.events
}

func (f *fakePresence) counts() (logOns, logOffs, webLogOns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logOns, f.logOffs, f.webLogOns
}

func (f *fakePresence) lastPersona() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.personas) == 0 {
		return ""
	}
	return f.personas[len(f.personas)-1]
}

func (f *fakePresence) lastChat() chatMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chats) == 0 {
		return chatMsg{}
	}
	return f.chats[len(f.chats)-1]
}

type fakeSession struct {
	resp    *query.StatusResponse
	err     error
	release chan struct{}
	closed  atomic.Bool
}

func (s *fakeSession) Status(ctx context.Context, _ query.Request) (*query.StatusResponse, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.resp, s.err
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (t *fakeTransport) push(s *fakeSession) *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = append(t.sessions, s)
	return s
}

func (t *fakeTransport) Open(context.Context) (query.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	if len(t.sessions) == 0 {
		return nil, nil
	}
	s := t.sessions[0]
	t.sessions = t.sessions[1:]
	return s, nil
}

type fakeProfile struct {
	mu       sync.Mutex
	uploads  []string
	err      error
	relogins int
	cookies  []string
}

func (p *fakeProfile) SetCookies(_ string, cookies []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = cookies
	return nil
}

func (p *fakeProfile) UploadAvatar(_ context.Context, _ presence.ID, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, path)
	if p.err != nil {
		return "", p.err
	}
	return "https://cdn.example/" + path, nil
}

func (p *fakeProfile) AllowRelogin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relogins++
	return p.relogins == 1
}

func (p *fakeProfile) uploaded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.uploads...)
}

type fakeConsole struct {
	closed atomic.Bool
}

func (c *fakeConsole) Close() error {
	c.closed.Store(true)
	return nil
}

type harness struct {
	agent     *Agent
	client    *fakePresence
	transport *fakeTransport
	profile   *fakeProfile
	clock     *clock.Mock
	fs        afero.Fs
	out       *bytes.Buffer
	console   *fakeConsole
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DataFolder = "/data"
	cfg.Steam.Username = "bot"
	cfg.Steam.Password = "hunter2"
	cfg.Steam.Nickname = "ServerBot"
	cfg.Steam.Admins = []string{string(adminID)}
	cfg.Steam.Autoconnect = false
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 29070
	cfg.UnsafeCmdsOnlyCLI = true
	return cfg
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		client:    newFakePresence(),
		transport: &fakeTransport{},
		profile:   &fakeProfile{},
		clock:     clock.NewMock(),
		fs:        afero.NewMemMapFs(),
		out:       &bytes.Buffer{},
		console:   &fakeConsole{},
	}
	h.agent = New(Deps{
		Config:    cfg,
		Presence:  h.client,
		Profile:   h.profile,
		Transport: h.transport,
		Clock:     h.clock,
		Fs:        h.fs,
		Out:       h.out,
	})
	h.agent.AttachConsole(h.console)
	return h
}

// step handles the next queued event on the test goroutine.
func (h *harness) step(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-h.agent.events:
		h.agent.handle(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for agent event")
		return nil
	}
}

func (h *harness) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.agent.events:
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// probe runs one full poll cycle answered with resp.
func (h *harness) probe(t *testing.T, resp *query.StatusResponse) *fakeSession {
	t.Helper()
	s := h.transport.push(&fakeSession{resp: resp})
	h.agent.poller.tick()
	if _, ok := h.step(t).(probeOpened); !ok {
		t.Fatalf("expected probeOpened")
	}
	if _, ok := h.step(t).(probeAnswered); !ok {
		t.Fatalf("expected probeAnswered")
	}
	return s
}

func (h *harness) writeFile(t *testing.T, path string) {
	t.Helper()
	if err := h.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := afero.WriteFile(h.fs, path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (h *harness) logIn(t *testing.T) {
	t.Helper()
	h.agent.conn.Connect()
	h.agent.conn.handle(presence.LoggedOn{SelfID: selfID, PublicIP: "203.0.113.7", CellID: 4})
	if h.agent.conn.State() != StateOnline {
		t.Fatalf("expected online, got %s", h.agent.conn.State())
	}
}

func statusResponse(mapName string, maxClients, privateClients string, clients ...string) *query.StatusResponse {
	return &query.StatusResponse{
		Info: map[string]string{
			"mapname":           mapName,
			"sv_maxclients":     maxClients,
			"sv_privateclients": privateClients,
		},
		Clients: clients,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

var errBoom = errors.New("boom")
