// Package bridge is the entry point for a media pipeline: it owns one
// session, server or client, and exposes the create / configure / start /
// send / stop lifecycle around it.
package bridge

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/strand-protocol/tensorbridge/pkg/session"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// Role aliases session.Role.
type Role = session.Role

const (
	RoleServer = session.RoleServer
	RoleClient = session.RoleClient
)

// DefaultHost and DefaultPort are the address used when none is configured.
const (
	DefaultHost = "localhost"
	DefaultPort = 55115
)

var (
	ErrEmptyHost     = errors.New("bridge: host is empty")
	ErrInvalidPort   = errors.New("bridge: port out of range")
	ErrNotConfigured = errors.New("bridge: stream format not configured")
	ErrWrongRole     = errors.New("bridge: operation not valid for role")
	ErrStarted       = errors.New("bridge: already started")
	ErrClosed        = errors.New("bridge: closed")
)

// Callback receives the decoded tensors of one frame in the server role,
// together with the user data registered alongside it.
type Callback func(mems []tensor.Memory, userData any)

// Frame aliases session.Frame.
type Frame = session.Frame

// FrameCallback is Callback with the sender's frame rate.
type FrameCallback func(frame Frame, userData any)

// lifecycleSession is what Bridge needs from a server or client session.
type lifecycleSession interface {
	Start() error
	Stop()
	State() session.State
	Addr() string
	ID() string
}

// Bridge is a handle for one end of a tensor stream. Configure and
// SetCallback must be called before Start.
type Bridge struct {
	role Role
	host string
	port int
	opts []session.Option
	log  *zap.Logger

	mu       sync.Mutex
	format   *tensor.Config
	callback FrameCallback
	userData any
	sess     lifecycleSession
	client   *session.Client
	closed   bool
}

// New creates a bridge for role at host:port. It does not touch the network.
func New(role Role, host string, port int, opts ...Option) (*Bridge, error) {
	if host == "" {
		return nil, ErrEmptyHost
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if role != RoleServer && role != RoleClient {
		return nil, fmt.Errorf("bridge: unknown role %s", role)
	}

	o := buildOptions(opts)
	return &Bridge{
		role: role,
		host: host,
		port: port,
		opts: o.sessionOptions(),
		log:  o.logger.With(zap.String("component", "bridge"), zap.Stringer("role", role)),
	}, nil
}

// Configure validates and stores the stream format.
func (b *Bridge) Configure(cfg tensor.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("bridge: configure: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != nil {
		return ErrStarted
	}
	cfg.Info = append([]tensor.Info(nil), cfg.Info...)
	b.format = &cfg
	return nil
}

// SetCallback registers the server-role delivery target. userData is passed
// back unchanged on every call.
func (b *Bridge) SetCallback(cb Callback, userData any) {
	if cb == nil {
		b.SetFrameCallback(nil, userData)
		return
	}
	b.SetFrameCallback(func(frame Frame, ud any) { cb(frame.Tensors, ud) }, userData)
}

// SetFrameCallback is SetCallback for consumers that also need the frame
// rate. It replaces any callback set earlier.
func (b *Bridge) SetFrameCallback(cb FrameCallback, userData any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = cb
	b.userData = userData
}

// Start creates the session and drives it to Active. On failure the bridge
// stays unstarted and Start may be retried.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.sess != nil {
		return ErrStarted
	}

	var sess lifecycleSession
	switch b.role {
	case RoleServer:
		sess = session.NewServer(b.host, b.port, b.deliverFunc(), b.opts...)
	case RoleClient:
		if b.format == nil {
			return ErrNotConfigured
		}
		c := session.NewClient(b.host, b.port, *b.format, b.opts...)
		b.client = c
		sess = c
	}

	if err := sess.Start(); err != nil {
		b.client = nil
		b.log.Error("start failed", zap.Error(err))
		return err
	}
	b.sess = sess
	b.log.Info("started", zap.String("session", sess.ID()), zap.String("addr", sess.Addr()))
	return nil
}

func (b *Bridge) deliverFunc() session.Callback {
	cb, userData := b.callback, b.userData
	if cb == nil {
		return nil
	}
	return func(frame Frame) { cb(frame, userData) }
}

// Send enqueues buf for transmission. It never waits for the network. The
// bridge owns buf after a successful call.
func (b *Bridge) Send(buf []byte) error {
	if b.role != RoleClient {
		return ErrWrongRole
	}
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()
	if c == nil {
		return session.ErrNotActive
	}
	return c.Send(buf)
}

// Stop shuts the session down and waits for its worker. It is idempotent and
// safe when Start failed or was never called. Stop must not be called from
// the delivery callback.
func (b *Bridge) Stop() {
	b.mu.Lock()
	sess := b.sess
	b.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

// Close stops the bridge if needed and releases it. The bridge cannot be
// started again.
func (b *Bridge) Close() error {
	b.Stop()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// State reports the session state, Idle before Start.
func (b *Bridge) State() session.State {
	b.mu.Lock()
	sess, closed := b.sess, b.closed
	b.mu.Unlock()
	if sess == nil {
		if closed {
			return session.Stopped
		}
		return session.Idle
	}
	return sess.State()
}

// Role returns the bridge role.
func (b *Bridge) Role() Role { return b.role }

// Addr returns the bound address (server) or peer address (client) once
// started, else the configured address.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	sess := b.sess
	b.mu.Unlock()
	if sess != nil {
		return sess.Addr()
	}
	return net.JoinHostPort(b.host, strconv.Itoa(b.port))
}

// Format returns the configured stream format and whether one was set.
func (b *Bridge) Format() (tensor.Config, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.format == nil {
		return tensor.Config{}, false
	}
	return *b.format, true
}
