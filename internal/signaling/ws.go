package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/based-collective/citizen-enet/internal/util"
)

const (
	pinLength         = 6
	rendezvousPath    = "/ws"
	readHeaderTimeout = 5 * time.Second
	closeGrace        = time.Second
)

var (
	// ErrInvalidPIN is returned by a client whose PIN the server refused.
	ErrInvalidPIN = errors.New("signaling server refused the PIN")
	// ErrSessionTaken is returned by a client that reached a server
	// already negotiating with someone else.
	ErrSessionTaken = errors.New("signaling session already taken")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// rendezvous is where a client meets the offering side. It hands over the
// first WebSocket that presents the PIN and turns everyone after it away.
type rendezvous struct {
	pin     string
	session string

	srv      *http.Server
	claimed  chan *websocket.Conn
	stopOnce sync.Once
}

func newRendezvous(pin string) *rendezvous {
	r := &rendezvous{
		pin:     pin,
		session: uuid.NewString(),
		claimed: make(chan *websocket.Conn, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(rendezvousPath, r.handleJoin)
	r.srv = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	return r
}

// listen binds addr ("host:port", port 0 picks one) and serves in the
// background. It returns the bound address.
func (r *rendezvous) listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to open signaling endpoint: %w", err)
	}
	go func() {
		if err := r.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("Signaling endpoint stopped: %v", err)
		}
	}()
	return ln.Addr().String(), nil
}

func (r *rendezvous) handleJoin(w http.ResponseWriter, req *http.Request) {
	if subtle.ConstantTimeCompare([]byte(req.URL.Query().Get("pin")), []byte(r.pin)) != 1 {
		util.LogWarning("Signaling join from %s refused: wrong PIN", req.RemoteAddr)
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		util.LogDebug("signaling upgrade for %s failed: %v", req.RemoteAddr, err)
		return
	}

	select {
	case r.claimed <- conn:
		util.LogDebug("signaling session %s claimed by %s", r.session, req.RemoteAddr)
	default:
		util.LogDebug("signaling session %s already claimed, turning %s away", r.session, req.RemoteAddr)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session taken"),
			time.Now().Add(closeGrace))
		_ = conn.Close()
	}
}

// accept waits for the client that claims the session.
func (r *rendezvous) accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-r.claimed:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop closes the endpoint. Claimed connections stay open; their owner
// closes them.
func (r *rendezvous) stop() {
	r.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if err := r.srv.Shutdown(ctx); err != nil {
			_ = r.srv.Close()
		}
	})
}

// joinURL is what a client dials for the endpoint bound at addr.
func (r *rendezvous) joinURL(addr string) string {
	return fmt.Sprintf("ws://%s%s?pin=%s", addr, rendezvousPath, r.pin)
}

// join dials a rendezvous URL. A refused PIN surfaces as ErrInvalidPIN.
func join(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrInvalidPIN
		}
		return nil, fmt.Errorf("failed to reach signaling server: %w", err)
	}
	return conn, nil
}

// isTurnedAway reports whether err is the close a rendezvous sends to a
// client arriving after the session was claimed.
func isTurnedAway(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation
}

// newPIN returns n random decimal digits.
func newPIN(n int) string {
	buf := make([]byte, n)
	// Bytes at or above 250 would bias the digits.
	for i := 0; i < n; {
		var b [1]byte
		_, _ = rand.Read(b[:])
		if b[0] >= 250 {
			continue
		}
		buf[i] = '0' + b[0]%10
		i++
	}
	return string(buf)
}
