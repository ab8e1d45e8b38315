package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
)

type collectingServer struct {
	UnimplementedTensorServiceServer
	frames chan *Tensors
}

func (s *collectingServer) SendTensors(stream grpc.ClientStreamingServer[Tensors, emptypb.Empty]) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return stream.SendAndClose(&emptypb.Empty{})
		}
		if err != nil {
			return err
		}
		s.frames <- msg
	}
}

func startBufServer(t *testing.T, srv TensorServiceServer) TensorServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(ServerOptions()...)
	RegisterTensorServiceServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewTensorServiceClient(conn)
}

func TestSendTensorsStream(t *testing.T) {
	srv := &collectingServer{frames: make(chan *Tensors, 8)}
	client := startBufServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.SendTensors(ctx)
	require.NoError(t, err)

	for i := byte(0); i < 3; i++ {
		frame := sampleFrame()
		frame.Tensor[0].Data = []byte{i, i, i, i}
		require.NoError(t, stream.Send(frame))
	}
	_, err = stream.CloseAndRecv()
	require.NoError(t, err)

	for i := byte(0); i < 3; i++ {
		select {
		case got := <-srv.frames:
			assert.Equal(t, []byte{i, i, i, i}, got.Tensor[0].Data)
			assert.Equal(t, "Anonymous", got.Tensor[0].Name)
			assert.Equal(t, int32(30), got.Fr.RateN)
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}
}

func TestRecvTensorsUnimplemented(t *testing.T) {
	client := startBufServer(t, &collectingServer{frames: make(chan *Tensors, 1)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.RecvTensors(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
