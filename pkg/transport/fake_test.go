package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeTransportDeliversInOrder(t *testing.T) {
	net := NewFakeNetwork()
	a := NewFakeTransport(net, "a")
	b := NewFakeTransport(net, "b")
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, "b", []byte("one")))
	require.NoError(t, a.Send(ctx, "b", []byte("two")))
	require.NoError(t, a.Send(ctx, "b", []byte("three")))

	for _, want := range []string{"one", "two", "three"} {
		in, err := b.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, Addr("a"), in.From)
		require.Equal(t, want, string(in.Data))
	}
}

func TestFakeTransportDropsToUnknownPeer(t *testing.T) {
	net := NewFakeNetwork()
	a := NewFakeTransport(net, "a")
	defer a.Close()

	err := a.Send(context.Background(), "ghost", []byte("hi"))
	require.ErrorIs(t, err, ErrDropped)
}

func TestFakeTransportRejectsOversizeFrame(t *testing.T) {
	net := NewFakeNetwork()
	a := NewFakeTransport(net, "a")
	b := NewFakeTransport(net, "b")
	defer a.Close()
	defer b.Close()

	big := make([]byte, MaxFrameSize+1)
	err := a.Send(context.Background(), "b", big)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFakeTransportRecvRespectsContextCancel(t *testing.T) {
	net := NewFakeNetwork()
	a := NewFakeTransport(net, "a")
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFakeTransportCloseUnregistersAndErrorsFurtherRecv(t *testing.T) {
	net := NewFakeNetwork()
	a := NewFakeTransport(net, "a")
	b := NewFakeTransport(net, "b")
	defer b.Close()

	require.NoError(t, a.Close())
	err := b.Send(context.Background(), "a", []byte("x"))
	require.ErrorIs(t, err, ErrDropped)

	_, err = a.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
