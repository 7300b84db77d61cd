// Package query speaks the Quake3-family getstatus protocol used by Jedi Academy
// servers. One Session is opened per probe and closed once the probe is over.
package query

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by Status once the session has been closed.
var ErrSessionClosed = errors.New("query session closed")

// Request is a single getstatus probe.
type Request struct {
	Address   string
	Port      int
	Challenge string
}

// StatusResponse is a parsed statusResponse datagram.
type StatusResponse struct {
	Info    map[string]string
	Clients []string
}

// Transport opens probe sessions. Open may return a nil Session with a nil
// error when no socket could be handed out; callers treat that as "no response".
type Transport interface {
	Open(ctx context.Context) (Session, error)
}

// Session carries one probe. Status blocks until a response arrives, ctx is
// done, or the session is closed.
type Session interface {
	Status(ctx context.Context, req Request) (*StatusResponse, error)
	Close() error
}
