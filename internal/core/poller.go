package core

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/serverbot/internal/query"
)

const (
	// QueryChallenge is echoed back by the server in its statusResponse.
	QueryChallenge = "serverbot-query"
	queryTimeout   = 5 * time.Second
	offlineAfter   = 120 * time.Second
)

type probe struct {
	session  query.Session
	cancel   context.CancelFunc
	watchdog *clock.Timer
}

// Poller periodically queries the game server and tracks whether it is
// considered offline. All methods run on the agent goroutine.
type Poller struct {
	transport query.Transport
	clock     clock.Clock
	log       *zerolog.Logger
	post      func(event)
	request   query.Request
	interval  time.Duration

	ctx        context.Context
	ticker     *clock.Ticker
	stopTicker chan struct{}
	stopped    bool

	cycle       uint64
	lastApplied uint64
	inflight    map[uint64]*probe

	status       ServerStatus
	offline      bool
	offlineTimer *clock.Timer
	offlineGen   uint64

	// onChange runs after the status or the offline flag changed.
	onChange func()
}

func newPoller(transport query.Transport, clk clock.Clock, logger *zerolog.Logger, post func(event), req query.Request, interval time.Duration) *Poller {
	return &Poller{
		transport: transport,
		clock:     clk,
		log:       logger,
		post:      post,
		request:   req,
		interval:  interval,
		ctx:       context.Background(),
		inflight:  make(map[uint64]*probe),
		status:    ServerStatus{Players: []Player{}},
		offline:   true,
		onChange:  func() {},
	}
}

// Status returns the last applied status.
func (p *Poller) Status() ServerStatus {
	return p.status
}

// Offline reports whether no response has been applied within the offline window.
func (p *Poller) Offline() bool {
	return p.offline
}

func (p *Poller) target() string {
	return fmt.Sprintf("%s:%d", p.request.Address, p.request.Port)
}

// Start begins polling. The first probe is sent one interval after start.
func (p *Poller) Start(ctx context.Context) {
	if p.ticker != nil || p.stopped {
		return
	}
	if p.request.Address == "" {
		p.log.Warn().Msg("No server address configured, server status will not be queried")
		return
	}
	p.ctx = ctx
	p.log.Info().Str("server", p.target()).Dur("interval", p.interval).Msg("Querying server")

	p.ticker = p.clock.Ticker(p.interval)
	p.stopTicker = make(chan struct{})
	go func(c <-chan time.Time, stop <-chan struct{}) {
		for {
			select {
			case <-c:
				p.post(probeTick{})
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(p.ticker.C, p.stopTicker)
}

// Stop cancels the ticker, the offline deadline and every probe in flight.
func (p *Poller) Stop() {
	p.stopped = true
	if p.ticker != nil {
		p.ticker.Stop()
		close(p.stopTicker)
		p.ticker = nil
	}
	if p.offlineTimer != nil {
		p.offlineTimer.Stop()
		p.offlineTimer = nil
	}
	p.offlineGen++
	for cycle := range p.inflight {
		p.finish(cycle)
	}
}

func (p *Poller) tick() {
	if p.stopped {
		return
	}
	p.cycle++
	cycle := p.cycle
	ctx := p.ctx
	go func() {
		session, err := p.transport.Open(ctx)
		p.post(probeOpened{cycle: cycle, session: session, err: err})
	}()
}

func (p *Poller) opened(ev probeOpened) {
	if ev.err != nil {
		p.log.Error().Err(ev.err).Msg("Failed to open query socket")
		return
	}
	if ev.session == nil {
		p.log.Warn().Str("server", p.target()).Msg("No response from server")
		return
	}
	if p.stopped {
		_ = ev.session.Close()
		return
	}

	cycle := ev.cycle
	ctx, cancel := context.WithCancel(p.ctx)
	pr := &probe{session: ev.session, cancel: cancel}
	pr.watchdog = p.clock.AfterFunc(queryTimeout, func() {
		p.post(probeTimedOut{cycle: cycle})
	})
	p.inflight[cycle] = pr

	req := p.request
	go func() {
		resp, err := pr.session.Status(ctx, req)
		if ctx.Err() != nil {
			return
		}
		p.post(probeAnswered{cycle: cycle, resp: resp, err: err})
	}()
}

func (p *Poller) answered(ev probeAnswered) {
	if _, ok := p.inflight[ev.cycle]; !ok {
		return
	}
	p.finish(ev.cycle)

	if ev.err != nil {
		p.log.Error().Err(ev.err).Str("server", p.target()).Msg("getstatus failed")
		return
	}
	if ev.cycle < p.lastApplied {
		p.log.Debug().Uint64("cycle", ev.cycle).Msg("discarding stale status response")
		return
	}
	p.lastApplied = ev.cycle
	p.status = BuildStatus(ev.resp)
	p.resetOffline()
	p.onChange()
}

func (p *Poller) timedOut(ev probeTimedOut) {
	if _, ok := p.inflight[ev.cycle]; !ok {
		return
	}
	p.log.Warn().Str("server", p.target()).Msg("Server query timed out")
	p.finish(ev.cycle)
}

func (p *Poller) finish(cycle uint64) {
	pr, ok := p.inflight[cycle]
	if !ok {
		return
	}
	delete(p.inflight, cycle)
	pr.watchdog.Stop()
	pr.cancel()
	if err := pr.session.Close(); err != nil {
		p.log.Debug().Err(err).Msg("close query session")
	}
}

func (p *Poller) resetOffline() {
	if p.offlineTimer != nil {
		p.offlineTimer.Stop()
	}
	p.offline = false
	p.offlineGen++
	gen := p.offlineGen
	p.offlineTimer = p.clock.AfterFunc(offlineAfter, func() {
		p.post(offlineExpired{gen: gen})
	})
}

func (p *Poller) expired(ev offlineExpired) {
	if ev.gen != p.offlineGen || p.offline {
		return
	}
	p.offlineTimer = nil
	p.offline = true
	p.log.Warn().Str("server", p.target()).Msg("Server considered offline")
	p.onChange()
}
