// Package core runs the bot: one goroutine owns the presence session, the
// server poller, the display state and the command router. Timers, network
// results, presence events and console input are all delivered to it as
// events, so none of that state needs locking.
package core

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/vovakirdan/serverbot/internal/config"
	applog "github.com/vovakirdan/serverbot/internal/log"
	"github.com/vovakirdan/serverbot/internal/presence"
	"github.com/vovakirdan/serverbot/internal/query"
)

const eventBuffer = 64

// Deps are the collaborators of an Agent. Clock, Fs, Logger and Out default
// to the real clock, the OS file system, a no-op logger and io.Discard.
type Deps struct {
	Config    config.Config
	Presence  presence.Client
	Profile   Profile
	Transport query.Transport
	Clock     clock.Clock
	Fs        afero.Fs
	Logger    *zerolog.Logger
	Out       io.Writer
}

// Snapshot is a read-only copy of the agent state.
type Snapshot struct {
	Connection  string       `json:"connection"`
	SelfID      string       `json:"self_id,omitempty"`
	Offline     bool         `json:"offline"`
	DisplayName string       `json:"display_name"`
	Avatar      string       `json:"avatar,omitempty"`
	Server      ServerStatus `json:"server"`
}

// Agent is the event loop.
type Agent struct {
	cfg    config.Config
	client presence.Client
	log    *zerolog.Logger
	out    io.Writer

	events   chan event
	done     chan struct{}
	doneOnce sync.Once
	stopping bool
	console  io.Closer

	conn    *Connection
	poller  *Poller
	display *Synchronizer
	router  *Router
}

// New builds an agent. Nothing runs until Run is called.
func New(deps Deps) *Agent {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	cfg := deps.Config

	a := &Agent{
		cfg:    cfg,
		client: deps.Presence,
		log:    applog.Component(deps.Logger, "agent"),
		out:    deps.Out,
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
	}

	a.conn = newConnection(deps.Presence, deps.Clock, applog.Component(deps.Logger, "connection"), a.post, presence.LogOnDetails{
		AccountName: cfg.Steam.Username,
		Password:    cfg.Steam.Password,
	})
	a.poller = newPoller(deps.Transport, deps.Clock, applog.Component(deps.Logger, "poller"), a.post, query.Request{
		Address:   cfg.Server.Address,
		Port:      cfg.Server.Port,
		Challenge: QueryChallenge,
	}, cfg.PollInterval())
	a.display = &Synchronizer{
		nickname:      cfg.Steam.Nickname,
		levelshots:    filepath.Join(cfg.DataFolder, "levelshots"),
		defaultAvatar: defaultAvatarPath(cfg),
		fs:            deps.Fs,
		client:        deps.Presence,
		profile:       deps.Profile,
		conn:          a.conn,
		poller:        a.poller,
		post:          a.post,
		log:           applog.Component(deps.Logger, "presence"),
		ctx:           context.Background(),
	}
	a.router = NewRouter(cfg.Steam.Admins, cfg.UnsafeCmdsOnlyCLI, applog.Component(deps.Logger, "commands"))
	a.registerCommands()

	a.poller.onChange = a.display.Refresh
	a.conn.onOnline = a.display.Refresh
	a.conn.onMessage = a.friendMessage
	a.conn.onWebSession = a.webSession
	return a
}

func defaultAvatarPath(cfg config.Config) string {
	path := cfg.Profile.DefaultAvatar
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.DataFolder, path)
}

// AttachConsole registers the console input so quit can close it.
func (a *Agent) AttachConsole(c io.Closer) {
	a.console = c
}

// Router exposes the command table.
func (a *Agent) Router() *Router {
	return a.router
}

// Submit hands one console line to the loop. It is safe to call from any goroutine.
func (a *Agent) Submit(line string) {
	a.post(consoleLine{text: line})
}

// ConsoleClosed tells the loop that console input ended.
func (a *Agent) ConsoleClosed() {
	a.post(consoleClosed{})
}

// Done is closed when Run returns.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Snapshot asks the loop for a copy of its state.
func (a *Agent) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case a.events <- snapshotRequest{reply: reply}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-a.done:
		return Snapshot{}, ErrStopped
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-a.done:
		return Snapshot{}, ErrStopped
	}
}

// Run processes events until quit is requested or ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.doneOnce.Do(func() { close(a.done) })

	a.start(ctx)

	presenceEvents := a.client.Events()
	for !a.stopping {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("Shutting down")
			a.shutdown()
			return nil
		case ev := <-a.events:
			a.handle(ev)
		case pev, ok := <-presenceEvents:
			if !ok {
				presenceEvents = nil
				continue
			}
			a.conn.handle(pev)
		}
	}
	a.log.Info().Msg("Bot stopped")
	return nil
}

func (a *Agent) start(ctx context.Context) {
	a.display.ctx = ctx
	a.poller.Start(ctx)

	switch {
	case !a.cfg.HasCredentials():
		a.log.Warn().Msg("Not logging in to the Steam network, no username/password specified in the config")
	case !a.cfg.Steam.Autoconnect:
		a.log.Info().Msg("Autoconnect is disabled, use 'connect' to do it manually")
	default:
		a.conn.Connect()
	}
}

// post queues an event for the loop. It never blocks once the loop is gone.
func (a *Agent) post(ev event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *Agent) handle(ev event) {
	switch e := ev.(type) {
	case probeTick:
		a.poller.tick()
	case probeOpened:
		a.poller.opened(e)
	case probeAnswered:
		a.poller.answered(e)
	case probeTimedOut:
		a.poller.timedOut(e)
	case offlineExpired:
		a.poller.expired(e)
	case reconnectDue:
		a.conn.reconnectFired(e)
	case avatarUploaded:
		a.display.uploaded(e)
	case consoleLine:
		a.consoleInput(e.text)
	case consoleClosed:
		a.log.Debug().Msg("console input closed")
	case snapshotRequest:
		e.reply <- a.snapshot()
	default:
		a.log.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unhandled event")
	}
}

func (a *Agent) consoleInput(text string) {
	line := strings.TrimSpace(text)
	if line == "" {
		return
	}
	if a.conn.AwaitingGuardCode() {
		if err := a.conn.SubmitGuardCode(line); err != nil {
			a.log.Warn().Err(err).Msg("Steam Guard code rejected")
		}
		return
	}
	a.router.Dispatch(line, "", a.consoleReply)
}

func (a *Agent) consoleReply(msg string) {
	fmt.Fprintln(a.out, msg)
}

func (a *Agent) friendMessage(msg presence.FriendMessage) {
	if msg.Sender == "" || msg.Text == "" {
		return
	}
	a.router.Dispatch(msg.Text, msg.Sender, a.chatReply(msg.Sender))
}

// chatReply sends command output back as a chat message. Multi-line replies
// start with a dot line since chat clients trim leading line breaks.
func (a *Agent) chatReply(to presence.ID) Reply {
	return func(msg string) {
		if strings.Contains(msg, "\n") {
			msg = ".\n" + msg
		}
		a.client.ChatMessage(to, msg)
	}
}

func (a *Agent) webSession(ws presence.WebSession) {
	if a.display.profile == nil {
		a.conn.webSession = false
		return
	}
	if err := a.display.profile.SetCookies(ws.SessionID, ws.Cookies); err != nil {
		a.log.Error().Err(err).Msg("Failed to install web session cookies")
		a.conn.webSession = false
		return
	}
	a.display.Refresh()
}

// shutdown implements quit: timers first, then the session, then console input.
func (a *Agent) shutdown() {
	if a.stopping {
		return
	}
	a.stopping = true
	a.poller.Stop()
	a.conn.cancelReconnect()
	switch a.conn.State() {
	case StateOnline, StateConnecting, StateAwaitingGuardCode:
		a.client.LogOff()
	}
	if a.console != nil {
		if err := a.console.Close(); err != nil {
			a.log.Debug().Err(err).Msg("close console")
		}
	}
}

func (a *Agent) snapshot() Snapshot {
	status, offline := a.poller.Status(), a.poller.Offline()
	players := make([]Player, len(status.Players))
	copy(players, status.Players)
	status.Players = players
	return Snapshot{
		Connection:  a.conn.State().String(),
		SelfID:      string(a.conn.Self()),
		Offline:     offline,
		DisplayName: DisplayName(a.cfg.Steam.Nickname, status, offline),
		Avatar:      a.display.LastAppliedKey(),
		Server:      status,
	}
}
