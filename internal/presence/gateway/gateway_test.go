package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/serverbot/internal/presence"
	"github.com/vovakirdan/serverbot/internal/proto"
	"github.com/vovakirdan/serverbot/internal/store"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]string)}
}

func (m *memStore) GetSession(_ context.Context, account string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[account]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Session{Account: account, MachineToken: tok}, nil
}

func (m *memStore) SaveMachineToken(_ context.Context, account, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[account] = token
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, account)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) token(account string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[account]
}

type serverConn struct {
	conn *websocket.Conn
	done chan struct{}
}

type serverMsg struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type fakeGateway struct {
	url   string
	conns chan *serverConn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{conns: make(chan *serverConn, 4)}
	var mu sync.Mutex
	var open []*serverConn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		sc := &serverConn{conn: conn, done: make(chan struct{})}
		mu.Lock()
		open = append(open, sc)
		mu.Unlock()
		gw.conns <- sc
		<-sc.done
	}))
	t.Cleanup(func() {
		mu.Lock()
		for _, sc := range open {
			select {
			case <-sc.done:
			default:
				close(sc.done)
			}
		}
		mu.Unlock()
		srv.Close()
	})
	gw.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return gw
}

func (g *fakeGateway) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-g.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for gateway connection")
		return nil
	}
}

func (sc *serverConn) read(t *testing.T) serverMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg serverMsg
	if err := wsjson.Read(ctx, sc.conn, &msg); err != nil {
		t.Fatalf("server read: %v", err)
	}
	return msg
}

func (sc *serverConn) write(t *testing.T, kind string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, sc.conn, proto.Inbound{Type: kind, Data: raw}); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func nextEvent(t *testing.T, c *Client) presence.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for presence event")
		return nil
	}
}

func decodeData(t *testing.T, msg serverMsg, out any) {
	t.Helper()
	if err := json.Unmarshal(msg.Data, out); err != nil {
		t.Fatalf("decode %s: %v", msg.Type, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	gw := newFakeGateway(t)
	st := newMemStore()
	st.tokens["bot"] = "tok-0"
	mock := clock.NewMock()

	c := New(context.Background(), Options{URL: gw.url, ReconnectDelay: 5 * time.Second, Store: st, Clock: mock})
	t.Cleanup(func() { _ = c.Close() })

	c.LogOn(presence.LogOnDetails{AccountName: "bot", Password: "hunter2"})
	sc := gw.accept(t)

	msg := sc.read(t)
	if msg.Type != proto.OutboundTypeLogOn {
		t.Fatalf("expected logon, got %s", msg.Type)
	}
	var logon proto.LogOnData
	decodeData(t, msg, &logon)
	if logon.AccountName != "bot" || logon.Password != "hunter2" || logon.MachineToken != "tok-0" {
		t.Fatalf("unexpected logon: %+v", logon)
	}

	sc.write(t, proto.InboundTypeLoggedOn, proto.LoggedOnData{SteamID: "76561197960265728", PublicIP: "203.0.113.7", CellID: 4})
	ev, ok := nextEvent(t, c).(presence.LoggedOn)
	if !ok || ev.SelfID != "76561197960265728" || ev.CellID != 4 {
		t.Fatalf("unexpected logged on event: %#v", ev)
	}

	c.SetPersona(presence.PersonaOnline, "ServerBot [0/8]")
	msg = sc.read(t)
	var persona proto.PersonaData
	decodeData(t, msg, &persona)
	if msg.Type != proto.OutboundTypePersona || persona.Name != "ServerBot [0/8]" || persona.State != "online" {
		t.Fatalf("unexpected persona request: %s %+v", msg.Type, persona)
	}
	if msg.ID == "" {
		t.Fatalf("requests must carry an id")
	}

	sc.write(t, proto.InboundTypeMachineAuth, proto.MachineAuthData{Token: "tok-1"})
	sc.write(t, proto.InboundTypeMessage, proto.MessageData{Sender: "76561197960287930", SenderName: "alice", Text: "!status"})
	if m, ok := nextEvent(t, c).(presence.FriendMessage); !ok || m.Text != "!status" || m.Sender != "76561197960287930" {
		t.Fatalf("unexpected message event: %#v", m)
	}
	if got := st.token("bot"); got != "tok-1" {
		t.Fatalf("expected machine token to be saved, got %q", got)
	}

	sc.write(t, proto.InboundTypeGuard, proto.GuardData{Domain: "example.com"})
	guard, ok := nextEvent(t, c).(presence.GuardChallenge)
	if !ok || guard.Domain != "example.com" || guard.Code == nil {
		t.Fatalf("unexpected guard event: %#v", guard)
	}
	if err := guard.Code.Submit("ABCDE"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	msg = sc.read(t)
	var code proto.GuardCodeData
	decodeData(t, msg, &code)
	if msg.Type != proto.OutboundTypeGuardCode || code.Code != "ABCDE" {
		t.Fatalf("unexpected guard code request: %s %+v", msg.Type, code)
	}

	// drop the connection, the client comes back after the delay with the new token
	sc.conn.Close(websocket.StatusGoingAway, "restart")
	if _, ok := nextEvent(t, c).(presence.Disconnected); !ok {
		t.Fatalf("expected disconnected event")
	}
	mock.Add(5 * time.Second)

	sc2 := gw.accept(t)
	msg = sc2.read(t)
	decodeData(t, msg, &logon)
	if msg.Type != proto.OutboundTypeLogOn || logon.MachineToken != "tok-1" {
		t.Fatalf("unexpected relogon: %s %+v", msg.Type, logon)
	}

	c.LogOff()
	if msg := sc2.read(t); msg.Type != proto.OutboundTypeLogOff {
		t.Fatalf("expected logoff, got %s", msg.Type)
	}
}

func TestFatalErrorDoesNotRetry(t *testing.T) {
	gw := newFakeGateway(t)
	mock := clock.NewMock()

	c := New(context.Background(), Options{URL: gw.url, ReconnectDelay: time.Second, Clock: mock})
	t.Cleanup(func() { _ = c.Close() })

	c.LogOn(presence.LogOnDetails{AccountName: "bot", Password: "wrong"})
	sc := gw.accept(t)
	sc.read(t)

	sc.write(t, proto.InboundTypeError, proto.ResultData{EResult: int(presence.ResultInvalidPassword), Message: "bad password"})
	fatal, ok := nextEvent(t, c).(presence.FatalError)
	if !ok || fatal.Result != presence.ResultInvalidPassword {
		t.Fatalf("unexpected event: %#v", fatal)
	}

	mock.Add(time.Minute)
	select {
	case <-gw.conns:
		t.Fatalf("client must not reconnect after a fatal error")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestsWithoutSessionAreDropped(t *testing.T) {
	c := New(context.Background(), Options{URL: "ws://127.0.0.1:1/ws"})
	t.Cleanup(func() { _ = c.Close() })

	c.ChatMessage("76561197960287930", "hello")
	c.AddFriend("76561197960287930")
	c.WebLogOn()

	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
