// Package session runs one end of a tensor stream: a Server that accepts
// frames and hands them to a callback, or a Client that ships queued buffers
// from a single worker goroutine.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidState is returned by Start when the session is not idle.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrNotActive is returned by Client.Send outside the Active state.
	ErrNotActive = errors.New("session: not active")
	// ErrQueueRejected is returned by Client.Send when the transfer queue
	// refuses the buffer.
	ErrQueueRejected = errors.New("session: queue rejected buffer")
)

// Role selects which end of the stream a session runs.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole parses "server" or "client".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "server":
		return RoleServer, nil
	case "client":
		return RoleClient, nil
	default:
		return 0, fmt.Errorf("session: unknown role %q", s)
	}
}

// State is the lifecycle position of a session. Stopped is terminal.
type State int32

const (
	Idle State = iota
	Starting
	Active
	Stopping
	Stopped
)

var stateNames = [...]string{"idle", "starting", "active", "stopping", "stopped"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// lifecycle serializes Start and Stop. State reads never take the lock so
// they are safe from the delivery callback while Stop is draining.
type lifecycle struct {
	mu      sync.Mutex
	state   atomic.Int32
	stopped chan struct{}
}

func (l *lifecycle) init() {
	l.stopped = make(chan struct{})
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	return State(l.state.Load())
}

func (l *lifecycle) start(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st := l.State(); st != Idle {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, st)
	}
	l.state.Store(int32(Starting))
	if err := fn(); err != nil {
		l.state.Store(int32(Idle))
		return err
	}
	l.state.Store(int32(Active))
	return nil
}

// stop runs fn once for an active session. Concurrent callers wait for the
// first one to finish; an idle session moves straight to Stopped.
func (l *lifecycle) stop(fn func()) {
	l.mu.Lock()
	switch l.State() {
	case Idle:
		l.state.Store(int32(Stopped))
		close(l.stopped)
		l.mu.Unlock()
		return
	case Active:
		l.state.Store(int32(Stopping))
		l.mu.Unlock()
	default:
		l.mu.Unlock()
		<-l.stopped
		return
	}

	fn()
	l.state.Store(int32(Stopped))
	close(l.stopped)
}
