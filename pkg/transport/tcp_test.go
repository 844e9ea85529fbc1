package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPTransportRoundTrip(t *testing.T) {
	srv, err := NewTCPTransport("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer srv.Close()

	cli, err := NewTCPTransport("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, cli.Send(ctx, srv.LocalAddr(), []byte("hello")))

	in, err := srv.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", string(in.Data))
}

func TestTCPTransportRejectsOversizeFrame(t *testing.T) {
	srv, err := NewTCPTransport("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer srv.Close()

	cli, err := NewTCPTransport("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer cli.Close()

	big := make([]byte, MaxFrameSize+1)
	err = cli.Send(context.Background(), srv.LocalAddr(), big)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestTCPTransportCloseStopsRecv(t *testing.T) {
	srv, err := NewTCPTransport("127.0.0.1:0", nil)
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	_, err = srv.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
