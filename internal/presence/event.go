package presence

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Event is delivered by a Client. The concrete types below are the only
// implementations.
type Event interface {
	presenceEvent()
}

// LoggedOn reports a successful login.
type LoggedOn struct {
	SelfID   ID
	PublicIP string
	CellID   uint32
}

// FatalError reports a failed login or a disconnect the client will not recover from.
type FatalError struct {
	Result  Result
	Message string
}

// Disconnected reports a non-fatal drop; the client keeps retrying on its own.
type Disconnected struct {
	Result  Result
	Message string
}

// GuardChallenge asks for a one-time login code. Domain is set for e-mail codes
// and empty for authenticator app codes.
type GuardChallenge struct {
	Domain        string
	LastCodeWrong bool
	Code          *GuardCode
}

// AccountLimitations describes restrictions on the bot account.
type AccountLimitations struct {
	Limited          bool
	CommunityBanned  bool
	Locked           bool
	CanInviteFriends bool
}

// FriendsList is a full snapshot of the friend relationships.
type FriendsList struct {
	Friends map[ID]Relationship
}

// FriendRelationship reports a change for a single account.
type FriendRelationship struct {
	ID           ID
	Relationship Relationship
}

// FriendMessage is an inbound direct chat message.
type FriendMessage struct {
	Sender     ID
	SenderName string
	Text       string
}

// WebSession carries cookies for the community web site.
type WebSession struct {
	SessionID string
	Cookies   []string
}

func (LoggedOn) presenceEvent()           {}
func (FatalError) presenceEvent()         {}
func (Disconnected) presenceEvent()       {}
func (GuardChallenge) presenceEvent()     {}
func (AccountLimitations) presenceEvent() {}
func (FriendsList) presenceEvent()        {}
func (FriendRelationship) presenceEvent() {}
func (FriendMessage) presenceEvent()      {}
func (WebSession) presenceEvent()         {}

// Result is an EResult code as sent by the network.
type Result int

// A few well known results; anything else is printed numerically.
const (
	ResultInvalid                    Result = 0
	ResultOK                         Result = 1
	ResultFail                       Result = 2
	ResultNoConnection               Result = 3
	ResultInvalidPassword            Result = 5
	ResultLoggedInElsewhere          Result = 6
	ResultBanned                     Result = 17
	ResultServiceUnavailable         Result = 20
	ResultAccountLogonDenied         Result = 63
	ResultInvalidLoginAuthCode       Result = 65
	ResultRateLimitExceeded          Result = 84
	ResultAccountLoginDeniedThrottle Result = 87
	ResultTwoFactorCodeMismatch      Result = 88
)

var resultNames = map[Result]string{
	ResultInvalid:                    "Invalid",
	ResultOK:                         "OK",
	ResultFail:                       "Fail",
	ResultNoConnection:               "NoConnection",
	ResultInvalidPassword:            "InvalidPassword",
	ResultLoggedInElsewhere:          "LoggedInElsewhere",
	ResultBanned:                     "Banned",
	ResultServiceUnavailable:         "ServiceUnavailable",
	ResultAccountLogonDenied:         "AccountLogonDenied",
	ResultInvalidLoginAuthCode:       "InvalidLoginAuthCode",
	ResultRateLimitExceeded:          "RateLimitExceeded",
	ResultAccountLoginDeniedThrottle: "AccountLoginDeniedThrottle",
	ResultTwoFactorCodeMismatch:      "TwoFactorCodeMismatch",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("EResult(%d)", int(r))
}

// ErrGuardCodeSubmitted is returned when a second code is submitted to the same challenge.
var ErrGuardCodeSubmitted = errors.New("guard code already submitted")

// GuardCode is a single-use completion slot for a GuardChallenge.
type GuardCode struct {
	ch   chan string
	used atomic.Bool
}

// NewGuardCode allocates the slot. The client reads the code from C.
func NewGuardCode() *GuardCode {
	return &GuardCode{ch: make(chan string, 1)}
}

// Submit fills the slot. Only the first call succeeds.
func (g *GuardCode) Submit(code string) error {
	if !g.used.CompareAndSwap(false, true) {
		return ErrGuardCodeSubmitted
	}
	g.ch <- code
	return nil
}

// C is the receive side used by the client.
func (g *GuardCode) C() <-chan string {
	return g.ch
}
