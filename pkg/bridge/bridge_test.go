package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/strand-protocol/tensorbridge/pkg/session"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

func float32Format() tensor.Config {
	return tensor.Config{
		Info:  []tensor.Info{{Type: tensor.Float32, Dimension: tensor.Dimension{4, 1, 1, 1}}},
		RateN: 30,
		RateD: 1,
	}
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

func TestBridgeEndToEnd(t *testing.T) {
	type received struct {
		mems     []tensor.Memory
		userData any
	}
	var (
		mu  sync.Mutex
		got []received
	)

	server, err := New(RoleServer, "127.0.0.1", 0, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	server.SetCallback(func(mems []tensor.Memory, userData any) {
		mu.Lock()
		got = append(got, received{mems, userData})
		mu.Unlock()
	}, "pipeline-ctx")
	require.NoError(t, server.Start())
	defer server.Close()
	assert.Equal(t, session.Active, server.State())

	client, err := New(RoleClient, "127.0.0.1", portOf(t, server.Addr()), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, client.Configure(float32Format()))
	require.NoError(t, client.Start())

	buf := make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(1.0))
	}
	require.NoError(t, client.Send(buf))
	require.NoError(t, client.Close())
	assert.Equal(t, session.Stopped, client.State())
	assert.ErrorIs(t, client.Send(buf), session.ErrNotActive)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "pipeline-ctx", got[0].userData)
	require.Len(t, got[0].mems, 1)
	assert.Equal(t, tensor.Float32, got[0].mems[0].Info.Type)
	assert.Equal(t, uint32(4), got[0].mems[0].Info.Dimension[0])
	assert.Equal(t, buf, got[0].mems[0].Data)
}

func TestFrameCallbackCarriesRate(t *testing.T) {
	frames := make(chan Frame, 1)
	server, err := New(RoleServer, "127.0.0.1", 0, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	server.SetFrameCallback(func(frame Frame, userData any) {
		assert.Equal(t, 7, userData)
		frames <- frame
	}, 7)
	require.NoError(t, server.Start())
	defer server.Close()

	format := float32Format()
	format.RateN, format.RateD = 25, 2
	client, err := New(RoleClient, "127.0.0.1", portOf(t, server.Addr()), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, client.Configure(format))
	require.NoError(t, client.Start())
	require.NoError(t, client.Send(make([]byte, 16)))
	require.NoError(t, client.Close())

	select {
	case frame := <-frames:
		assert.Equal(t, int32(25), frame.RateN)
		assert.Equal(t, int32(2), frame.RateD)
		require.Len(t, frame.Tensors, 1)
		assert.Len(t, frame.Tensors[0].Data, 16)
	case <-time.After(5 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestTracerProviderReachesSession(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	server, err := New(RoleServer, "127.0.0.1", 0,
		WithLogger(zaptest.NewLogger(t)), WithTracerProvider(tp))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Close()

	client, err := New(RoleClient, "127.0.0.1", portOf(t, server.Addr()),
		WithLogger(zaptest.NewLogger(t)), WithTracerProvider(tp))
	require.NoError(t, err)
	require.NoError(t, client.Configure(float32Format()))
	require.NoError(t, client.Start())
	require.NoError(t, client.Send(make([]byte, 16)))
	require.NoError(t, client.Close())

	require.Eventually(t, func() bool { return len(recorder.Ended()) == 2 }, 5*time.Second, 10*time.Millisecond)
	for _, span := range recorder.Ended() {
		assert.Contains(t, span.Attributes(), attribute.Int("tensorbridge.frames", 1))
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(RoleClient, "", DefaultPort)
	assert.ErrorIs(t, err, ErrEmptyHost)

	_, err = New(RoleClient, DefaultHost, 70000)
	assert.ErrorIs(t, err, ErrInvalidPort)

	_, err = New(session.Role(7), DefaultHost, DefaultPort)
	assert.Error(t, err)

	b, err := New(RoleClient, DefaultHost, DefaultPort)
	require.NoError(t, err)
	assert.Equal(t, RoleClient, b.Role())
	assert.Equal(t, "localhost:55115", b.Addr())
	assert.Equal(t, session.Idle, b.State())
}

func TestClientRequiresFormat(t *testing.T) {
	b, err := New(RoleClient, "127.0.0.1", 1)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Start(), ErrNotConfigured)
	assert.ErrorIs(t, b.Send([]byte{1}), session.ErrNotActive)

	assert.Error(t, b.Configure(tensor.Config{}))
	_, ok := b.Format()
	assert.False(t, ok)
}

func TestSendWrongRole(t *testing.T) {
	b, err := New(RoleServer, "127.0.0.1", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Send([]byte{1}), ErrWrongRole)
}

func TestStopWithoutStart(t *testing.T) {
	b, err := New(RoleServer, "127.0.0.1", 0)
	require.NoError(t, err)
	b.Stop()
	b.Stop()
	require.NoError(t, b.Close())
	assert.Equal(t, session.Stopped, b.State())
	assert.ErrorIs(t, b.Start(), ErrClosed)
}

func TestStartFailureIsRetryable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port

	b, err := New(RoleServer, "127.0.0.1", port, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.Error(t, b.Start())
	assert.Equal(t, session.Idle, b.State())
	b.Stop()

	require.NoError(t, lis.Close())
	require.NoError(t, b.Start())
	assert.Equal(t, session.Active, b.State())
	require.NoError(t, b.Close())
	assert.Equal(t, session.Stopped, b.State())
}

func TestClientStartsWithUnreachablePeer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	b, err := New(RoleClient, "127.0.0.1", port,
		WithLogger(zaptest.NewLogger(t)), WithShutdownTimeout(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, b.Configure(float32Format()))
	require.NoError(t, b.Start())
	assert.Equal(t, session.Active, b.State())

	require.Eventually(t, func() bool {
		return errors.Is(b.Send(make([]byte, 16)), session.ErrQueueRejected)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	assert.Equal(t, session.Stopped, b.State())
}

func TestConfigureAfterStart(t *testing.T) {
	b, err := New(RoleServer, "127.0.0.1", 0, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer b.Close()

	assert.ErrorIs(t, b.Configure(float32Format()), ErrStarted)
	assert.ErrorIs(t, b.Start(), ErrStarted)
}

func TestConfigureCopiesFormat(t *testing.T) {
	b, err := New(RoleClient, DefaultHost, DefaultPort)
	require.NoError(t, err)

	cfg := float32Format()
	require.NoError(t, b.Configure(cfg))
	cfg.Info[0].Type = tensor.Int8

	stored, ok := b.Format()
	require.True(t, ok)
	assert.Equal(t, tensor.Float32, stored.Info[0].Type)
}
