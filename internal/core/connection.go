package core

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/serverbot/internal/presence"
	"github.com/vovakirdan/serverbot/internal/service/friends"
)

const reconnectDelay = 10 * time.Minute

// ConnState is the lifecycle state of the presence session.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOnline
	StateReconnectPending
	StateAwaitingGuardCode
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateAwaitingGuardCode:
		return "awaiting_guard_code"
	default:
		return "disconnected"
	}
}

// Connection drives the presence session: explicit connect and disconnect,
// guard codes, and the delayed reconnect after fatal errors. It is owned by
// the agent goroutine.
type Connection struct {
	client  presence.Client
	clock   clock.Clock
	log     *zerolog.Logger
	post    func(event)
	details presence.LogOnDetails
	friends *friends.Service

	state      ConnState
	self       presence.ID
	guard      *presence.GuardCode
	webSession bool

	reconnect    *clock.Timer
	reconnectGen uint64

	onOnline     func()
	onMessage    func(presence.FriendMessage)
	onWebSession func(presence.WebSession)
}

func newConnection(client presence.Client, clk clock.Clock, logger *zerolog.Logger, post func(event), details presence.LogOnDetails) *Connection {
	return &Connection{
		client:       client,
		clock:        clk,
		log:          logger,
		post:         post,
		details:      details,
		friends:      friends.New(client),
		onOnline:     func() {},
		onMessage:    func(presence.FriendMessage) {},
		onWebSession: func(presence.WebSession) {},
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState { return c.state }

// Self returns the bot's own id while a session is up.
func (c *Connection) Self() presence.ID { return c.self }

// WebSessionActive reports whether web cookies from the current session are installed.
func (c *Connection) WebSessionActive() bool { return c.webSession }

// Friends exposes the relationship view of the current session.
func (c *Connection) Friends() *friends.Service { return c.friends }

// AwaitingGuardCode reports whether console input is routed to the guard prompt.
func (c *Connection) AwaitingGuardCode() bool {
	return c.state == StateAwaitingGuardCode && c.guard != nil
}

// Connect starts a login unless one is running or no credentials exist. It
// cancels a pending reconnect.
func (c *Connection) Connect() bool {
	if c.details.AccountName == "" || c.details.Password == "" {
		c.log.Warn().Msg("You can't connect if no username/password is specified in the config")
		return false
	}
	switch c.state {
	case StateOnline:
		c.log.Info().Msg("Already connected to the Steam network")
		return false
	case StateConnecting, StateAwaitingGuardCode:
		c.log.Info().Msg("A connection attempt is already in progress")
		return false
	}

	c.cancelReconnect()
	c.state = StateConnecting
	c.log.Info().Str("account", c.details.AccountName).Msg("Logging into the Steam network")
	c.client.LogOn(c.details)
	return true
}

// Disconnect ends the session or cancels a pending reconnect.
func (c *Connection) Disconnect() bool {
	switch c.state {
	case StateDisconnected:
		c.log.Info().Msg("Not connected to the Steam network")
		return false
	case StateReconnectPending:
		c.cancelReconnect()
		c.state = StateDisconnected
		c.log.Info().Msg("Cancelled the pending reconnect")
		return true
	}

	c.log.Info().Msg("Logging off from the Steam network")
	c.client.LogOff()
	c.reset()
	return true
}

// SubmitGuardCode answers the pending guard challenge.
func (c *Connection) SubmitGuardCode(code string) error {
	if !c.AwaitingGuardCode() {
		return ErrNoGuardPrompt
	}
	guard := c.guard
	c.guard = nil
	c.state = StateConnecting
	return guard.Submit(code)
}

// ReconnectPending reports whether the backoff timer is armed.
func (c *Connection) ReconnectPending() bool {
	return c.reconnect != nil
}

func (c *Connection) reset() {
	c.state = StateDisconnected
	c.self = ""
	c.guard = nil
	c.webSession = false
	c.friends.Reset()
}

func (c *Connection) armReconnect() {
	c.cancelReconnect()
	gen := c.reconnectGen
	c.reconnect = c.clock.AfterFunc(reconnectDelay, func() {
		c.post(reconnectDue{gen: gen})
	})
}

func (c *Connection) cancelReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.reconnectGen++
}

func (c *Connection) reconnectFired(ev reconnectDue) {
	if ev.gen != c.reconnectGen || c.state != StateReconnectPending {
		return
	}
	c.reconnect = nil
	c.log.Info().Msg("Attempting to reconnect to the Steam network")
	c.Connect()
}

func (c *Connection) handle(ev presence.Event) {
	switch e := ev.(type) {
	case presence.LoggedOn:
		c.cancelReconnect()
		c.state = StateOnline
		c.self = e.SelfID
		c.guard = nil
		c.log.Info().
			Str("steam_id", string(e.SelfID)).
			Str("public_ip", e.PublicIP).
			Uint32("cell_id", e.CellID).
			Msg("Logged into the Steam network")
		c.onOnline()

	case presence.FatalError:
		c.log.Error().Str("result", e.Result.String()).Str("msg", e.Message).Msg("Fatal error on the Steam connection")
		c.reset()
		c.state = StateReconnectPending
		c.armReconnect()
		c.log.Info().Dur("delay", reconnectDelay).Msg("Unless you reconnect manually, the bot will retry after the delay")

	case presence.Disconnected:
		c.log.Warn().Str("result", e.Result.String()).Str("msg", e.Message).Msg("Disconnected from the Steam network")
		if c.state == StateOnline || c.state == StateConnecting || c.state == StateAwaitingGuardCode {
			c.reset()
		}

	case presence.GuardChallenge:
		c.guard = e.Code
		c.state = StateAwaitingGuardCode
		evt := c.log.Info().Bool("last_code_wrong", e.LastCodeWrong)
		if e.Domain != "" {
			evt.Str("from", "e-mail ******@"+e.Domain).Msg("Steam Guard code needed")
		} else {
			evt.Str("from", "app").Msg("Steam Guard code needed")
		}
		c.log.Info().Msg("Please enter your Steam Guard code")

	case presence.AccountLimitations:
		canInvite := !e.Limited && e.CanInviteFriends
		if !canInvite {
			c.log.Warn().Msg("This bot account is limited and cannot send friend requests, it can still receive them")
		}
		if e.CommunityBanned {
			c.log.Warn().Msg("This bot account is banned from Steam Community")
		}
		if e.Locked {
			c.log.Warn().Msg("This bot account is locked")
		}
		c.friends.SetCanInvite(canInvite)

	case presence.FriendsList:
		for _, id := range c.friends.Replace(e.Friends) {
			c.log.Info().Str("steam_id", string(id)).Msg("Accepting offline friend request")
		}
		count := c.friends.Count()
		c.log.Info().Int("count", count).Msg("Friends list loaded")
		if count > friends.FriendLimitWarning {
			c.log.Warn().Int("count", count).Msg("Friends list is getting large, consider pruning it")
		}

	case presence.FriendRelationship:
		if c.friends.Update(e.ID, e.Relationship) {
			c.log.Info().Str("steam_id", string(e.ID)).Msg("Accepting friend request")
		}

	case presence.FriendMessage:
		c.log.Info().Str("steam_id", string(e.Sender)).Str("name", e.SenderName).Str("text", e.Text).Msg("Friend message")
		c.onMessage(e)

	case presence.WebSession:
		c.webSession = true
		c.log.Info().Msg("Got a web session")
		c.onWebSession(e)
	}
}
