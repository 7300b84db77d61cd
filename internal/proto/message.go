package proto

import "encoding/json"

// Outbound is the envelope for requests the bot sends to the presence gateway.
type Outbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Inbound is the envelope for messages coming from the gateway.
type Inbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
	Error *Error          `json:"error,omitempty"`
}

const (
	ProtocolVersion = 1

	OutboundTypeLogOn        = "logon"
	OutboundTypeLogOff       = "logoff"
	OutboundTypeGuardCode    = "guard_code"
	OutboundTypePersona      = "persona"
	OutboundTypeChat         = "chat"
	OutboundTypeAddFriend    = "add_friend"
	OutboundTypeRemoveFriend = "remove_friend"
	OutboundTypeWebLogOn     = "web_logon"

	InboundTypeLoggedOn     = "logged_on"
	InboundTypeError        = "error"
	InboundTypeDisconnected = "disconnected"
	InboundTypeGuard        = "guard"
	InboundTypeLimitations  = "limitations"
	InboundTypeFriends      = "friends"
	InboundTypeRelationship = "relationship"
	InboundTypeMessage      = "message"
	InboundTypeWebSession   = "web_session"
	InboundTypeMachineAuth  = "machine_auth"
)

// LogOnData starts a session.
type LogOnData struct {
	Protocol     int    `json:"protocol"`
	AccountName  string `json:"account_name"`
	Password     string `json:"password"`
	MachineToken string `json:"machine_token,omitempty"`
}

// GuardCodeData answers a guard challenge.
type GuardCodeData struct {
	Code string `json:"code"`
}

// PersonaData sets the visible state and name.
type PersonaData struct {
	State string `json:"state"`
	Name  string `json:"name"`
}

// ChatData is a direct message to a friend.
type ChatData struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// FriendData targets one account.
type FriendData struct {
	SteamID string `json:"steam_id"`
}

// LoggedOnData reports a successful login.
type LoggedOnData struct {
	SteamID  string `json:"steam_id"`
	PublicIP string `json:"public_ip"`
	CellID   uint32 `json:"cell_id"`
}

// ResultData carries an EResult for error and disconnected messages.
type ResultData struct {
	EResult int    `json:"eresult"`
	Message string `json:"message,omitempty"`
}

// GuardData asks for a one-time code.
type GuardData struct {
	Domain        string `json:"domain,omitempty"`
	LastCodeWrong bool   `json:"last_code_wrong"`
}

// LimitationsData describes account restrictions.
type LimitationsData struct {
	Limited          bool `json:"limited"`
	CommunityBanned  bool `json:"community_banned"`
	Locked           bool `json:"locked"`
	CanInviteFriends bool `json:"can_invite_friends"`
}

// FriendsData is a full relationship snapshot keyed by Steam64 id.
type FriendsData struct {
	Friends map[string]int `json:"friends"`
}

// RelationshipData is a relationship change.
type RelationshipData struct {
	SteamID      string `json:"steam_id"`
	Relationship int    `json:"relationship"`
}

// MessageData is an inbound direct message.
type MessageData struct {
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// WebSessionData carries community cookies.
type WebSessionData struct {
	SessionID string   `json:"session_id"`
	Cookies   []string `json:"cookies"`
}

// MachineAuthData is a token the gateway wants persisted for future logins.
type MachineAuthData struct {
	Token string `json:"token"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
