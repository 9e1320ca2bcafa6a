package transport

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/based-collective/citizen-enet/internal/util"
)

const (
	highWaterMark = 1024 * 1024 // drop outgoing datagrams while bufferedAmount exceeds this
	channelLabel  = "enet"
)

// DefaultSTUNServers are used when no ICE servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// placeholderRemote stands in for the remote address when the selected ICE
// pair cannot be parsed (mDNS candidates).
var placeholderRemote = netip.AddrPortFrom(netip.AddrFrom4([4]byte{192, 0, 2, 1}), 1)

// DataChannelConn carries datagrams over a pre-negotiated, unordered,
// zero-retransmit WebRTC DataChannel. It is point to point: every datagram
// goes to the single remote endpoint, whatever address Send is given.
type DataChannelConn struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
	in *inbox

	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	local  netip.AddrPort
	remote netip.AddrPort
}

// NewDataChannelConn creates a PeerConnection and its DataChannel. The
// caller drives signaling through the exposed SDP/ICE methods and waits on
// Ready before handing the conn to a host.
func NewDataChannelConn(ctx context.Context, iceServers []string) (*DataChannelConn, error) {
	if len(iceServers) == 0 {
		iceServers = DefaultSTUNServers
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	})
	if err != nil {
		return nil, err
	}

	ordered := false
	negotiated := true
	retransmits := uint16(0)
	id := uint16(0)
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &DataChannelConn{
		pc:         pc,
		dc:         dc,
		in:         newInbox(inboxSize),
		openSignal: make(chan struct{}),
		ctx:        cctx,
		cancel:     cancel,
		remote:     placeholderRemote,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			c.resolveAddrs()
			close(c.openSignal)
		})
	})

	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		c.in.fail(ErrClosed)
		cancel()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.RLock()
		from := c.remote
		c.mu.RUnlock()
		if !c.in.push(Datagram{From: from, Data: msg.Data}) {
			util.LogDebug("DataChannel inbox full, dropped %d bytes", len(msg.Data))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			c.in.fail(errors.New("peer connection failed"))
			cancel()
		}
	})

	return c, nil
}

// resolveAddrs records the addresses of the selected ICE candidate pair.
func (c *DataChannelConn) resolveAddrs() {
	sctp := c.pc.SCTP()
	if sctp == nil {
		return
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ap, ok := candidateAddr(pair.Local); ok {
		c.local = ap
	}
	if ap, ok := candidateAddr(pair.Remote); ok {
		c.remote = ap
	}
}

func candidateAddr(cand *webrtc.ICECandidate) (netip.AddrPort, bool) {
	if cand == nil {
		return netip.AddrPort{}, false
	}
	ip, err := netip.ParseAddr(cand.Address)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip.Unmap(), cand.Port), true
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready is closed once the DataChannel is open.
func (c *DataChannelConn) Ready() <-chan struct{} { return c.openSignal }

// Done is closed when the DataChannel closes or the parent context ends.
func (c *DataChannelConn) Done() <-chan struct{} { return c.ctx.Done() }

// Close shuts down the DataChannel and PeerConnection.
func (c *DataChannelConn) Close() error {
	c.cancel()
	c.in.fail(ErrClosed)
	return errors.Join(c.dc.Close(), c.pc.Close())
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (c *DataChannelConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (c *DataChannelConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (c *DataChannelConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (c *DataChannelConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback for gathered local candidates. A nil
// candidate signals the end of gathering.
func (c *DataChannelConn) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	c.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote candidate received through signaling.
func (c *DataChannelConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Datagrams
// ---------------------------------------------------------------------------

// Send writes b as one DataChannel message. The destination is ignored.
// Datagrams are dropped, as on a congested link, while the channel is not
// open or its send buffer is above the high water mark.
func (c *DataChannelConn) Send(_ netip.AddrPort, b []byte) (int, error) {
	select {
	case <-c.in.done:
		return 0, ErrClosed
	case <-c.openSignal:
	default:
		return 0, nil
	}

	if c.dc.BufferedAmount() > highWaterMark {
		return 0, nil
	}
	if err := c.dc.Send(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Receive returns the next datagram, waiting up to wait.
func (c *DataChannelConn) Receive(wait time.Duration) (Datagram, bool, error) {
	return c.in.receive(wait)
}

// LocalAddr returns the local address of the selected ICE pair, or the zero
// value before the channel opens.
func (c *DataChannelConn) LocalAddr() netip.AddrPort {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// RemoteAddr returns the address datagrams are reported from.
func (c *DataChannelConn) RemoteAddr() netip.AddrPort {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}
