package core

import (
	"testing"
	"time"

	"github.com/vovakirdan/serverbot/internal/config"
)

func TestProbeAppliesStatus(t *testing.T) {
	h := newHarness(t, nil)
	if !h.agent.poller.Offline() {
		t.Fatalf("server must start offline")
	}

	s := h.probe(t, statusResponse("mp/ffa3", "10", "2", `5 30 "Alice"`, `0 0 "Bot1"`))

	st := h.agent.poller.Status()
	if h.agent.poller.Offline() || st.Map != "mp/ffa3" || st.HumanPlayers != 1 || st.MaxNormalClients != 8 {
		t.Fatalf("unexpected status %+v offline=%v", st, h.agent.poller.Offline())
	}
	if !s.closed.Load() {
		t.Fatalf("session must be closed after the probe")
	}
	if len(h.agent.poller.inflight) != 0 {
		t.Fatalf("probe still in flight")
	}
}

func TestOfflineWindow(t *testing.T) {
	h := newHarness(t, nil)

	h.probe(t, statusResponse("mp/ffa3", "8", "0"))
	h.clock.Add(119 * time.Second)
	h.expectIdle(t)

	// a success inside the window restarts it
	h.probe(t, statusResponse("mp/ffa3", "8", "0"))
	h.clock.Add(119 * time.Second)
	h.expectIdle(t)
	if h.agent.poller.Offline() {
		t.Fatalf("server must still be online")
	}

	h.clock.Add(time.Second)
	if _, ok := h.step(t).(offlineExpired); !ok {
		t.Fatalf("expected offline deadline")
	}
	if !h.agent.poller.Offline() {
		t.Fatalf("server must be offline after 120s without a response")
	}
}

func TestProbeTimeoutKeepsOfflineDeadline(t *testing.T) {
	h := newHarness(t, nil)
	h.probe(t, statusResponse("mp/ffa3", "8", "0"))

	slow := h.transport.push(&fakeSession{release: make(chan struct{})})
	h.agent.poller.tick()
	h.step(t) // opened

	h.clock.Add(queryTimeout)
	if _, ok := h.step(t).(probeTimedOut); !ok {
		t.Fatalf("expected probe timeout")
	}
	if !slow.closed.Load() {
		t.Fatalf("timed out session must be closed")
	}
	if h.agent.poller.Offline() {
		t.Fatalf("a single timeout must not mark the server offline")
	}
	h.expectIdle(t)

	h.clock.Add(offlineAfter - queryTimeout)
	if _, ok := h.step(t).(offlineExpired); !ok {
		t.Fatalf("expected offline deadline from the last success")
	}
}

func TestLateResponseDoesNotOverwriteNewer(t *testing.T) {
	h := newHarness(t, nil)

	slow := h.transport.push(&fakeSession{
		resp:    statusResponse("mp/old", "8", "0"),
		release: make(chan struct{}),
	})
	h.agent.poller.tick()
	h.step(t)

	h.transport.push(&fakeSession{resp: statusResponse("mp/new", "8", "0")})
	h.agent.poller.tick()
	h.step(t)
	if _, ok := h.step(t).(probeAnswered); !ok {
		t.Fatalf("expected the second probe to answer")
	}
	if h.agent.poller.Status().Map != "mp/new" {
		t.Fatalf("expected newer status to be applied")
	}

	close(slow.release)
	if _, ok := h.step(t).(probeAnswered); !ok {
		t.Fatalf("expected the first probe to answer")
	}
	if h.agent.poller.Status().Map != "mp/new" {
		t.Fatalf("late response overwrote a newer one: %s", h.agent.poller.Status().Map)
	}
	if !slow.closed.Load() {
		t.Fatalf("late session must still be closed")
	}
}

func TestProbeWithoutSocketOrWithError(t *testing.T) {
	h := newHarness(t, nil)

	// no session available
	h.agent.poller.tick()
	if ev, ok := h.step(t).(probeOpened); !ok || ev.session != nil {
		t.Fatalf("expected an empty probeOpened")
	}

	h.transport.push(&fakeSession{err: errBoom})
	h.agent.poller.tick()
	h.step(t)
	h.step(t)
	if !h.agent.poller.Offline() || len(h.agent.poller.inflight) != 0 {
		t.Fatalf("a failed probe must not change the status")
	}
}

func TestPollerTicksAndStops(t *testing.T) {
	h := newHarness(t, nil)
	h.agent.poller.Start(t.Context())

	h.transport.push(&fakeSession{release: make(chan struct{})})
	h.clock.Add(h.agent.cfg.PollInterval())
	if _, ok := h.step(t).(probeTick); !ok {
		t.Fatalf("expected a tick")
	}
	h.step(t) // opened
	if len(h.agent.poller.inflight) != 1 {
		t.Fatalf("expected one probe in flight")
	}

	h.agent.poller.Stop()
	if len(h.agent.poller.inflight) != 0 {
		t.Fatalf("stop must cancel probes in flight")
	}
	h.clock.Add(10 * h.agent.cfg.PollInterval())
	h.expectIdle(t)
}

func TestPollerIdleWithoutAddress(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Server.Address = "" })
	h.agent.poller.Start(t.Context())
	if h.agent.poller.ticker != nil {
		t.Fatalf("ticker must not start without a server address")
	}

	h.clock.Add(3 * h.agent.cfg.PollInterval())
	h.expectIdle(t)
	if !h.agent.poller.Offline() {
		t.Fatalf("server must stay offline")
	}
}
