package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/strand-protocol/tensorbridge/pkg/codec"
	"github.com/strand-protocol/tensorbridge/pkg/protocol"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// Frame is one decoded message: its tensors and the frame rate the sender
// declared.
type Frame struct {
	Tensors []tensor.Memory
	RateN   int32
	RateD   int32
}

// Callback receives every decoded frame. It runs on the gRPC handler
// goroutine of the stream that carried the frame and must be safe for
// concurrent use when several peers stream at once.
type Callback func(frame Frame)

// Server accepts SendTensors streams and delivers every decoded frame to its
// callback. There is no queue on this side.
type Server struct {
	lifecycle

	id       string
	addr     string
	callback Callback
	opts     options
	log      *zap.Logger
	tracer   trace.Tracer

	lis       net.Listener
	grpc      *grpc.Server
	health    *health.Server
	serveDone chan struct{}
}

// NewServer creates an idle server for host:port. cb may be nil, in which
// case frames are decoded and discarded.
func NewServer(host string, port int, cb Callback, opts ...Option) *Server {
	o := buildOptions(opts)
	id := uuid.NewString()
	s := &Server{
		id:       id,
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		callback: cb,
		opts:     o,
		log: o.logger.With(
			zap.String("component", "session"),
			zap.String("role", RoleServer.String()),
			zap.String("session", id),
		),
		tracer: o.tracerProvider.Tracer(tracerName),
	}
	s.lifecycle.init()
	return s
}

// ID returns the random session identifier.
func (s *Server) ID() string { return s.id }

// Addr returns the bound listener address once started, else the configured
// address.
func (s *Server) Addr() string {
	if st := s.State(); st == Active || st == Stopping {
		return s.lis.Addr().String()
	}
	return s.addr
}

// Start binds the listener and begins serving on a background goroutine. A
// bind failure is returned and the server stays Idle.
func (s *Server) Start() error {
	return s.start(func() error {
		lis, err := net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("session: listen %s: %w", s.addr, err)
		}

		opts := append(protocol.ServerOptions(),
			grpc.MaxRecvMsgSize(s.opts.maxMessageSize),
			grpc.MaxSendMsgSize(s.opts.maxMessageSize),
		)
		gs := grpc.NewServer(opts...)
		protocol.RegisterTensorServiceServer(gs, &tensorService{s: s})

		hs := health.NewServer()
		hs.SetServingStatus(protocol.ServiceName, healthgrpc.HealthCheckResponse_SERVING)
		healthgrpc.RegisterHealthServer(gs, hs)

		s.lis = lis
		s.grpc = gs
		s.health = hs
		s.serveDone = make(chan struct{})

		go func() {
			defer close(s.serveDone)
			if err := gs.Serve(lis); err != nil {
				s.log.Error("serve failed", zap.Error(err))
			}
		}()

		s.log.Info("listening", zap.String("addr", lis.Addr().String()))
		return nil
	})
}

// Stop marks the health service NOT_SERVING and shuts the gRPC server down
// gracefully. Streams still open after the shutdown timeout are cancelled.
// Stop is idempotent and safe on a server that never started.
func (s *Server) Stop() {
	s.stop(func() {
		s.health.Shutdown()

		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			s.log.Debug("all streams drained")
		case <-time.After(s.opts.shutdownTimeout):
			s.log.Warn("shutdown timeout exceeded, closing open streams",
				zap.Duration("timeout", s.opts.shutdownTimeout))
			s.grpc.Stop()
			<-done
		}
		<-s.serveDone
		s.log.Info("stopped")
	})
}

// tensorService adapts Server to protocol.TensorServiceServer.
type tensorService struct {
	s *Server
}

func (t *tensorService) SendTensors(stream grpc.ClientStreamingServer[protocol.Tensors, emptypb.Empty]) error {
	s := t.s
	_, span := s.tracer.Start(stream.Context(), "TensorService/SendTensors",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	log := s.log
	if p, ok := peer.FromContext(stream.Context()); ok {
		log = log.With(zap.Stringer("peer", p.Addr))
	}
	log.Debug("stream opened")

	frames := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			span.SetAttributes(attribute.Int("tensorbridge.frames", frames))
			log.Debug("stream finished", zap.Int("frames", frames))
			return stream.SendAndClose(&emptypb.Empty{})
		}
		if err != nil {
			s.opts.metrics.StreamError(RoleServer.String(), "recv")
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "receive failed")
			log.Warn("stream receive failed", zap.Int("frames", frames), zap.Error(err))
			return err
		}

		mems, err := codec.Decode(msg)
		if err != nil {
			s.opts.metrics.StreamError(RoleServer.String(), "decode")
			log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		frames++
		rateN, rateD := codec.FrameRate(msg)
		s.deliver(Frame{Tensors: mems, RateN: rateN, RateD: rateD})
	}
}

// RecvTensors is the server-push direction. It is not implemented and ends
// the stream immediately with no frames.
func (t *tensorService) RecvTensors(*emptypb.Empty, grpc.ServerStreamingServer[protocol.Tensors]) error {
	return nil
}

func (s *Server) deliver(frame Frame) {
	var size int
	for _, m := range frame.Tensors {
		size += len(m.Data)
	}
	s.opts.metrics.FrameReceived(size)

	if s.callback == nil {
		return
	}
	start := time.Now()
	s.callback(frame)
	s.opts.metrics.ObserveCallback(time.Since(start))
}
