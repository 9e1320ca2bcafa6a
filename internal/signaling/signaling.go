package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/based-collective/citizen-enet/internal/transport"
	"github.com/based-collective/citizen-enet/internal/util"
)

// Options configure both signaling roles.
type Options struct {
	// ICEServers are STUN/TURN URLs; empty uses transport.DefaultSTUNServers.
	ICEServers []string
	// Announce receives the URL, PIN included, that a client should dial.
	// It is called once the server listens. Nil logs the URL.
	Announce func(url string)
}

// EstablishAsServer runs the offering side:
//  1. Open a rendezvous endpoint on listen and announce its URL
//  2. Wait for a client to claim the session with the PIN
//  3. Create the DataChannel transport and send the offer
//  4. Trickle ICE candidates until the DataChannel opens
//  5. Close the endpoint and the claimed connection
func EstablishAsServer(ctx context.Context, listen string, opts Options) (*transport.DataChannelConn, error) {
	rv := newRendezvous(newPIN(pinLength))
	addr, err := rv.listen(listen)
	if err != nil {
		return nil, err
	}
	defer rv.stop()

	url := rv.joinURL(addr)
	if opts.Announce != nil {
		opts.Announce(url)
	} else {
		util.LogInfo("signaling server listening, clients dial %s", url)
	}

	wsConn, err := rv.accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("signaling client connected from %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, rv.session, opts.ICEServers, true)
}

// EstablishAsClient dials wsURL and runs the answering side until the
// DataChannel opens.
func EstablishAsClient(ctx context.Context, wsURL string, opts Options) (*transport.DataChannelConn, error) {
	wsConn, err := join(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("signaling connected to %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, "", opts.ICEServers, false)
}

func exchange(ctx context.Context, wsConn *websocket.Conn, session string, iceServers []string, offer bool) (*transport.DataChannelConn, error) {
	conn, err := transport.NewDataChannelConn(ctx, iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create DataChannel transport: %w", err)
	}

	s := &sender{peer: conn, conn: wsConn, session: session}
	r := &receiver{peer: conn, conn: wsConn, sender: s}

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.sendCandidate(c.ToJSON()); err != nil {
			util.LogDebug("trickle ICE candidate: %v", err)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits when wsConn is closed by the caller
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-conn.Ready():
		util.LogDebug("DataChannel open, closing signaling")
		return conn, nil

	case err := <-errCh:
		conn.Close()
		if isTurnedAway(err) {
			return nil, ErrSessionTaken
		}
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}
