// Package gateway implements presence.Client on top of a JSON websocket
// gateway that holds the actual network session.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/serverbot/internal/presence"
	"github.com/vovakirdan/serverbot/internal/proto"
	"github.com/vovakirdan/serverbot/internal/store"
	"github.com/vovakirdan/serverbot/internal/utils"
)

const (
	eventBuffer    = 64
	outboundBuffer = 32
	writeTimeout   = 10 * time.Second
	closeGrace     = time.Second
)

var (
	errLoggedOff = errors.New("logged off")
	errFatal     = errors.New("fatal gateway error")
)

// Options configure a Client.
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	Store          store.SessionStore
	Clock          clock.Clock
	Logger         *zerolog.Logger
}

// Client keeps at most one gateway session open. A session that drops without
// a logoff or a fatal error is re-established after ReconnectDelay.
type Client struct {
	url   string
	delay time.Duration
	store store.SessionStore
	clock clock.Clock
	log   *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan presence.Event
	wg     sync.WaitGroup

	mu        sync.Mutex
	details   presence.LogOnDetails
	gen       uint64
	sess      *session
	retry     *clock.Timer
	loggedOff bool
}

type session struct {
	gen    uint64
	conn   *websocket.Conn
	out    chan proto.Outbound
	cancel context.CancelFunc
	fatal  bool
}

// New creates a client whose sessions live at most as long as ctx.
func New(ctx context.Context, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		url:    opts.URL,
		delay:  opts.ReconnectDelay,
		store:  opts.Store,
		clock:  opts.Clock,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan presence.Event, eventBuffer),
	}
}

// Events implements presence.Client.
func (c *Client) Events() <-chan presence.Event {
	return c.events
}

// LogOn implements presence.Client. Any existing session is replaced.
func (c *Client) LogOn(details presence.LogOnDetails) {
	c.mu.Lock()
	c.details = details
	c.loggedOff = false
	c.stopRetryLocked()
	if c.sess != nil {
		c.sess.cancel()
		c.sess = nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.start(gen, details, false)
}

// LogOff implements presence.Client.
func (c *Client) LogOff() {
	c.mu.Lock()
	c.loggedOff = true
	c.stopRetryLocked()
	c.gen++
	s := c.sess
	c.mu.Unlock()

	if s != nil {
		c.enqueue(s, proto.Outbound{Type: proto.OutboundTypeLogOff})
	}
}

// SetPersona implements presence.Client.
func (c *Client) SetPersona(state presence.PersonaState, name string) {
	c.send(proto.OutboundTypePersona, proto.PersonaData{State: state.String(), Name: name})
}

// ChatMessage implements presence.Client.
func (c *Client) ChatMessage(to presence.ID, text string) {
	c.send(proto.OutboundTypeChat, proto.ChatData{To: string(to), Text: text})
}

// AddFriend implements presence.Client.
func (c *Client) AddFriend(id presence.ID) {
	c.send(proto.OutboundTypeAddFriend, proto.FriendData{SteamID: string(id)})
}

// RemoveFriend implements presence.Client.
func (c *Client) RemoveFriend(id presence.ID) {
	c.send(proto.OutboundTypeRemoveFriend, proto.FriendData{SteamID: string(id)})
}

// WebLogOn implements presence.Client.
func (c *Client) WebLogOn() {
	c.send(proto.OutboundTypeWebLogOn, nil)
}

// Close ends the current session and waits for its goroutines. After LogOff
// the pending logoff request gets up to closeGrace to be written.
func (c *Client) Close() error {
	c.mu.Lock()
	wasLoggedOff := c.loggedOff
	c.loggedOff = true
	c.stopRetryLocked()
	c.mu.Unlock()

	if wasLoggedOff {
		flushed := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-time.After(closeGrace):
		}
	}

	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Client) send(kind string, data any) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		c.log.Debug().Str("type", kind).Msg("no gateway session, dropping request")
		return
	}
	c.enqueue(s, proto.Outbound{Type: kind, ID: utils.NewID(), Data: data})
}

func (c *Client) enqueue(s *session, msg proto.Outbound) {
	select {
	case s.out <- msg:
	default:
		c.log.Warn().Str("type", msg.Type).Msg("gateway outbound queue full, dropping request")
	}
}

func (c *Client) emit(ev presence.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) start(gen uint64, details presence.LogOnDetails, retrying bool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(gen, details, retrying)
	}()
}

func (c *Client) run(gen uint64, details presence.LogOnDetails, retrying bool) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error().Err(err).Str("url", c.url).Bool("retry", retrying).Msg("gateway dial failed")
		c.emit(presence.FatalError{Result: presence.ResultNoConnection, Message: err.Error()})
		return
	}

	s := &session{
		gen:    gen,
		conn:   conn,
		out:    make(chan proto.Outbound, outboundBuffer),
		cancel: cancel,
	}

	c.mu.Lock()
	if c.gen != gen || c.loggedOff {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.sess = s
	c.mu.Unlock()

	s.out <- proto.Outbound{
		Type: proto.OutboundTypeLogOn,
		ID:   utils.NewID(),
		Data: proto.LogOnData{
			Protocol:     proto.ProtocolVersion,
			AccountName:  details.AccountName,
			Password:     details.Password,
			MachineToken: c.machineToken(ctx, details.AccountName),
		},
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- c.readLoop(ctx, s, details.AccountName)
	}()
	go func() {
		errCh <- c.writeLoop(ctx, s)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	if err != nil && !errors.Is(err, errLoggedOff) && !errors.Is(err, context.Canceled) {
		status = websocket.StatusGoingAway
	}
	conn.Close(status, "closing")

	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	if c.loggedOff || c.gen != gen || s.fatal || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.retry = c.clock.AfterFunc(c.delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.log.Warn().Err(err).Dur("retry_in", c.delay).Msg("gateway session dropped")
	c.emit(presence.Disconnected{Result: presence.ResultNoConnection, Message: errorText(err)})
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.loggedOff || c.sess != nil {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.gen++
	next := c.gen
	details := c.details
	c.mu.Unlock()

	c.log.Info().Msg("reconnecting to gateway")
	c.start(next, details, true)
}

func (c *Client) machineToken(ctx context.Context, account string) string {
	if c.store == nil || account == "" {
		return ""
	}
	sess, err := c.store.GetSession(ctx, account)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn().Err(err).Msg("failed to load machine token")
		}
		return ""
	}
	return sess.MachineToken
}

func (c *Client) writeLoop(ctx context.Context, s *session) error {
	for {
		select {
		case msg := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, s.conn, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("write %s: %w", msg.Type, err)
			}
			if msg.Type == proto.OutboundTypeLogOff {
				return errLoggedOff
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) readLoop(ctx context.Context, s *session, account string) error {
	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, s.conn, &in); err != nil {
			return err
		}
		if in.Error != nil {
			c.log.Warn().
				Str("request_id", utils.ShortID(in.ID)).
				Str("code", in.Error.Code).
				Str("msg", in.Error.Msg).
				Msg("gateway rejected request")
			continue
		}
		ev, err := c.decode(ctx, s, account, in)
		if err != nil {
			c.log.Warn().Err(err).Str("type", in.Type).Msg("bad gateway message")
			continue
		}
		if ev == nil {
			continue
		}
		c.emit(ev)
		if _, ok := ev.(presence.FatalError); ok {
			s.fatal = true
			return errFatal
		}
	}
}

func (c *Client) decode(ctx context.Context, s *session, account string, in proto.Inbound) (presence.Event, error) {
	switch in.Type {
	case proto.InboundTypeLoggedOn:
		var data proto.LoggedOnData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		return presence.LoggedOn{SelfID: presence.ID(data.SteamID), PublicIP: data.PublicIP, CellID: data.CellID}, nil

	case proto.InboundTypeError, proto.InboundTypeDisconnected:
		var data proto.ResultData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		if in.Type == proto.InboundTypeError {
			return presence.FatalError{Result: presence.Result(data.EResult), Message: data.Message}, nil
		}
		return presence.Disconnected{Result: presence.Result(data.EResult), Message: data.Message}, nil

	case proto.InboundTypeGuard:
		var data proto.GuardData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		code := presence.NewGuardCode()
		go c.awaitGuardCode(ctx, s, code)
		return presence.GuardChallenge{Domain: data.Domain, LastCodeWrong: data.LastCodeWrong, Code: code}, nil

	case proto.InboundTypeLimitations:
		var data proto.LimitationsData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		return presence.AccountLimitations{
			Limited:          data.Limited,
			CommunityBanned:  data.CommunityBanned,
			Locked:           data.Locked,
			CanInviteFriends: data.CanInviteFriends,
		}, nil

	case proto.InboundTypeFriends:
		var data proto.FriendsData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		friends := make(map[presence.ID]presence.Relationship, len(data.Friends))
		for id, rel := range data.Friends {
			friends[presence.ID(id)] = presence.Relationship(rel)
		}
		return presence.FriendsList{Friends: friends}, nil

	case proto.InboundTypeRelationship:
		var data proto.RelationshipData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		return presence.FriendRelationship{ID: presence.ID(data.SteamID), Relationship: presence.Relationship(data.Relationship)}, nil

	case proto.InboundTypeMessage:
		var data proto.MessageData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		return presence.FriendMessage{Sender: presence.ID(data.Sender), SenderName: data.SenderName, Text: data.Text}, nil

	case proto.InboundTypeWebSession:
		var data proto.WebSessionData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		return presence.WebSession{SessionID: data.SessionID, Cookies: data.Cookies}, nil

	case proto.InboundTypeMachineAuth:
		var data proto.MachineAuthData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, err
		}
		c.saveMachineToken(ctx, account, data.Token)
		return nil, nil

	default:
		c.log.Debug().Str("type", in.Type).Msg("ignoring unknown gateway message")
		return nil, nil
	}
}

func (c *Client) awaitGuardCode(ctx context.Context, s *session, code *presence.GuardCode) {
	select {
	case v := <-code.C():
		c.enqueue(s, proto.Outbound{
			Type: proto.OutboundTypeGuardCode,
			ID:   utils.NewID(),
			Data: proto.GuardCodeData{Code: v},
		})
	case <-ctx.Done():
	}
}

func (c *Client) saveMachineToken(ctx context.Context, account, token string) {
	if c.store == nil || account == "" || token == "" {
		return
	}
	if err := c.store.SaveMachineToken(ctx, account, token); err != nil {
		c.log.Error().Err(err).Msg("failed to save machine token")
		return
	}
	c.log.Debug().Msg("machine token saved")
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
