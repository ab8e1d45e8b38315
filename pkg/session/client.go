package session

import (
	"context"
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
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/strand-protocol/tensorbridge/pkg/codec"
	"github.com/strand-protocol/tensorbridge/pkg/protocol"
	"github.com/strand-protocol/tensorbridge/pkg/queue"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// Client ships buffers to a remote Server. Send only enqueues; a single
// worker goroutine owns the stream, encodes each buffer and writes it.
type Client struct {
	lifecycle

	id     string
	target string
	format tensor.Config
	opts   options
	log    *zap.Logger
	tracer trace.Tracer

	queue      *queue.Queue[[]byte]
	conn       *grpc.ClientConn
	cancel     context.CancelFunc
	workerDone chan struct{}
}

// NewClient creates an idle client for host:port. format describes the
// layout of every buffer passed to Send.
func NewClient(host string, port int, format tensor.Config, opts ...Option) *Client {
	o := buildOptions(opts)
	id := uuid.NewString()
	c := &Client{
		id:     id,
		target: net.JoinHostPort(host, strconv.Itoa(port)),
		format: format,
		opts:   o,
		log: o.logger.With(
			zap.String("component", "session"),
			zap.String("role", RoleClient.String()),
			zap.String("session", id),
		),
		tracer: o.tracerProvider.Tracer(tracerName),
	}
	c.lifecycle.init()
	return c
}

// ID returns the random session identifier.
func (c *Client) ID() string { return c.id }

// Addr returns the peer address.
func (c *Client) Addr() string { return c.target }

// Start validates the format, creates the connection handle and starts the
// worker. Creating the handle does not contact the peer; the worker opens the
// stream right away, so an unreachable peer shows up as refused buffers
// rather than a Start error.
func (c *Client) Start() error {
	return c.start(func() error {
		if err := c.format.Validate(); err != nil {
			return fmt.Errorf("session: format: %w", err)
		}
		conn, err := grpc.NewClient(c.target,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallSendMsgSize(c.opts.maxMessageSize),
				grpc.MaxCallRecvMsgSize(c.opts.maxMessageSize),
			),
		)
		if err != nil {
			return fmt.Errorf("session: connect %s: %w", c.target, err)
		}

		c.conn = conn
		c.queue = queue.New(queue.WithLimits[[]byte](c.opts.maxBuffers, c.opts.maxBytes))
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.workerDone = make(chan struct{})

		go c.run(ctx)

		c.log.Info("started", zap.String("target", c.target))
		return nil
	})
}

// Send enqueues buf for transmission and returns without waiting for the
// network. The client owns buf after a successful Send; on error the caller
// keeps it.
func (c *Client) Send(buf []byte) error {
	if c.State() != Active {
		return ErrNotActive
	}
	if !c.queue.Push(queue.Item[[]byte]{Object: buf, Size: uint64(len(buf))}) {
		c.opts.metrics.FrameRejected()
		return ErrQueueRejected
	}
	c.opts.metrics.SetQueueDepth(c.queue.Len())
	return nil
}

// Stop flushes the queue, lets the worker write what is left and finish the
// stream, then closes the connection. If the worker is still busy after the
// shutdown timeout its stream is cancelled. Stop is idempotent and safe on a
// client that never started.
func (c *Client) Stop() {
	c.stop(func() {
		c.queue.SetFlushing()

		select {
		case <-c.workerDone:
		case <-time.After(c.opts.shutdownTimeout):
			c.log.Warn("worker did not finish in time, cancelling stream",
				zap.Duration("timeout", c.opts.shutdownTimeout))
			c.cancel()
			<-c.workerDone
		}
		c.cancel()

		if err := c.conn.Close(); err != nil {
			c.log.Debug("close connection", zap.Error(err))
		}
		c.log.Info("stopped")
	})
}

func (c *Client) run(ctx context.Context) {
	defer close(c.workerDone)

	w := &streamWriter{
		c:      c,
		ctx:    ctx,
		client: protocol.NewTensorServiceClient(c.conn),
	}
	if err := w.open(); err != nil {
		w.c.opts.metrics.StreamError(RoleClient.String(), "open")
		w.abort(err)
		return
	}

	for {
		item, ok := c.queue.Pop()
		if !ok {
			break
		}
		c.opts.metrics.SetQueueDepth(c.queue.Len())
		if err := w.write(item.Object); err != nil {
			w.abort(err)
			return
		}
	}

	// Best-effort drain of what was queued before the flush.
	for _, item := range c.queue.Drain() {
		if err := w.write(item.Object); err != nil {
			w.abort(err)
			return
		}
	}
	c.opts.metrics.SetQueueDepth(0)
	w.finish()
}

// streamWriter is the worker's view of the SendTensors stream, opened when
// the worker starts.
type streamWriter struct {
	c      *Client
	ctx    context.Context
	client protocol.TensorServiceClient
	stream grpc.ClientStreamingClient[protocol.Tensors, emptypb.Empty]
	span   trace.Span
	sent   int
}

func (w *streamWriter) open() error {
	ctx, span := w.c.tracer.Start(w.ctx, "TensorService/SendTensors",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.target", w.c.target)))
	stream, err := w.client.SendTensors(ctx, grpc.WaitForReady(w.c.opts.waitForReady))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "open failed")
		span.End()
		return fmt.Errorf("open stream: %w", err)
	}
	w.stream = stream
	w.span = span
	w.c.log.Debug("stream opened")
	return nil
}

func (w *streamWriter) write(buf []byte) error {
	msg, err := codec.Encode(buf, w.c.format)
	if err != nil {
		if !errors.Is(err, codec.ErrTruncated) {
			return err
		}
		w.c.opts.metrics.Truncated()
		w.c.log.Warn("forwarding truncated frame", zap.Uint32("tensors", msg.NumTensor), zap.Error(err))
	}

	if err := w.stream.Send(msg); err != nil {
		// io.EOF means the stream broke; the real status comes from the close.
		if errors.Is(err, io.EOF) {
			if _, cerr := w.stream.CloseAndRecv(); cerr != nil {
				err = cerr
			}
		}
		w.c.opts.metrics.StreamError(RoleClient.String(), "write")
		return fmt.Errorf("write frame: %w", err)
	}
	w.sent++
	w.c.opts.metrics.FrameSent(len(buf))
	return nil
}

// abort ends the worker after a failed open or write. The queue is flushed so
// later sends fail instead of piling up behind a dead stream.
func (w *streamWriter) abort(err error) {
	w.c.queue.SetFlushing()
	dropped := len(w.c.queue.Drain())
	w.c.opts.metrics.SetQueueDepth(0)

	w.c.log.Error("stream failed, dropping further buffers",
		zap.Int("sent", w.sent), zap.Int("dropped", dropped), zap.Error(err))
	if w.span != nil {
		w.span.RecordError(err)
		w.span.SetStatus(otelcodes.Error, "stream failed")
		w.span.End()
	}
}

// finish half-closes the stream and waits for the peer's acknowledgement.
func (w *streamWriter) finish() {
	defer w.span.End()

	w.span.SetAttributes(attribute.Int("tensorbridge.frames", w.sent))
	if _, err := w.stream.CloseAndRecv(); err != nil {
		w.c.opts.metrics.StreamError(RoleClient.String(), "close")
		w.span.RecordError(err)
		w.span.SetStatus(otelcodes.Error, "close failed")
		w.c.log.Warn("peer reported stream error", zap.Int("sent", w.sent), zap.Error(err))
		return
	}
	w.c.log.Debug("stream closed", zap.Int("sent", w.sent))
}
