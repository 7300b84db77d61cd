package core

import "github.com/vovakirdan/serverbot/internal/query"

// event is processed by the agent goroutine. Everything that happens off the
// loop (timers, network I/O, console input) is turned into one of these.
type event interface {
	agentEvent()
}

type probeTick struct{}

type probeOpened struct {
	cycle   uint64
	session query.Session
	err     error
}

type probeAnswered struct {
	cycle uint64
	resp  *query.StatusResponse
	err   error
}

type probeTimedOut struct {
	cycle uint64
}

type offlineExpired struct {
	gen uint64
}

type reconnectDue struct {
	gen uint64
}

type avatarUploaded struct {
	key  string
	path string
	url  string
	err  error
}

type consoleLine struct {
	text string
}

type consoleClosed struct{}

type snapshotRequest struct {
	reply chan Snapshot
}

func (probeTick) agentEvent()       {}
func (probeOpened) agentEvent()     {}
func (probeAnswered) agentEvent()   {}
func (probeTimedOut) agentEvent()   {}
func (offlineExpired) agentEvent()  {}
func (reconnectDue) agentEvent()    {}
func (avatarUploaded) agentEvent()  {}
func (consoleLine) agentEvent()     {}
func (consoleClosed) agentEvent()   {}
func (snapshotRequest) agentEvent() {}
