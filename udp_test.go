package enet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestUDPLoopbackExchange(t *testing.T) {
	bind, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)

	server, err := NewHost(&bind, 2, 0, 0, 0, WithChecksum())
	require.NoError(t, err)
	defer server.Close()
	client, err := NewHost(&bind, 1, 0, 0, 0, WithChecksum())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for ctx.Err() == nil {
			ev, err := server.Service(10 * time.Millisecond)
			if err != nil {
				return err
			}
			if ev == nil {
				continue
			}
			switch ev.Type {
			case EventReceive:
				reply, err := NewPacket(append([]byte("echo "), ev.Packet.Data()...), ReliableSequenced)
				if err != nil {
					return err
				}
				if err := ev.Peer.Send(ev.ChannelID, reply); err != nil {
					return err
				}
			case EventDisconnect:
				return nil
			}
		}
		return ctx.Err()
	})

	var got []byte
	g.Go(func() error {
		peer, err := client.Connect(server.Address(), 2, 0)
		if err != nil {
			return err
		}
		for ctx.Err() == nil {
			ev, err := client.Service(10 * time.Millisecond)
			if err != nil {
				return err
			}
			if ev == nil {
				continue
			}
			switch ev.Type {
			case EventConnect:
				hello, err := NewPacket([]byte("hello"), ReliableSequenced)
				if err != nil {
					return err
				}
				if err := peer.Send(1, hello); err != nil {
					return err
				}
			case EventReceive:
				got = ev.Packet.Data()
				peer.Disconnect(0)
			case EventDisconnect:
				return nil
			}
		}
		return ctx.Err()
	})

	require.NoError(t, g.Wait())
	assert.Equal(t, []byte("echo hello"), got)
	assert.Positive(t, client.Stats().DatagramsSent)
	assert.Positive(t, server.Stats().DatagramsReceived)
}
