// Package transport provides the datagram carriers the protocol engine runs
// over: UDP sockets, WebRTC DataChannels and an in-memory network for tests.
package transport

import (
	"errors"
	"net/netip"
	"sync"
	"time"
)

// MaxDatagramSize bounds a single received datagram.
const MaxDatagramSize = 65535

// inboxSize is the number of datagrams buffered between a carrier's reader
// and the host. Datagrams arriving while the inbox is full are dropped.
const inboxSize = 256

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("transport closed")

// Datagram is one received datagram and its source.
type Datagram struct {
	From netip.AddrPort
	Data []byte
}

// Conn is an unreliable datagram endpoint.
//
// Send transmits b to the given address and returns the number of bytes
// accepted. Receive returns the next pending datagram, waiting up to wait
// for one to arrive; ok is false when none arrived in time.
type Conn interface {
	Send(to netip.AddrPort, b []byte) (int, error)
	Receive(wait time.Duration) (d Datagram, ok bool, err error)
	LocalAddr() netip.AddrPort
	Close() error
}

// inbox is the bounded hand-off queue between a reader goroutine (or
// callback) and Receive.
type inbox struct {
	ch   chan Datagram
	done chan struct{}

	once sync.Once
	err  error
}

func newInbox(size int) *inbox {
	return &inbox{
		ch:   make(chan Datagram, size),
		done: make(chan struct{}),
	}
}

// push enqueues d without blocking and reports whether it was queued.
func (q *inbox) push(d Datagram) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- d:
		return true
	default:
		return false
	}
}

// fail closes the inbox with err. Only the first call has effect.
func (q *inbox) fail(err error) {
	q.once.Do(func() {
		q.err = err
		close(q.done)
	})
}

func (q *inbox) receive(wait time.Duration) (Datagram, bool, error) {
	select {
	case d := <-q.ch:
		return d, true, nil
	default:
	}

	select {
	case <-q.done:
		return Datagram{}, false, q.err
	default:
	}

	if wait <= 0 {
		return Datagram{}, false, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case d := <-q.ch:
		return d, true, nil
	case <-q.done:
		return Datagram{}, false, q.err
	case <-timer.C:
		return Datagram{}, false, nil
	}
}
