package enet

import (
	"net/netip"

	"github.com/based-collective/citizen-enet/internal/util"
)

// Intercept sees every datagram before the protocol does. Returning true
// consumes the datagram. The hook runs inside Service and may only call
// SendTo and read-only accessors on h; re-entering Service, CheckEvents,
// Flush, Connect, Broadcast or Close panics. A panic inside the hook is
// fatal to the process.
type Intercept func(h *Host, from Address, data []byte) bool

// fatalf terminates the process after a hook panic.
var fatalf = util.LogFatal

// SetIntercept installs fn, or removes the hook when fn is nil.
func (h *Host) SetIntercept(fn Intercept) {
	h.checkReentry("SetIntercept")
	h.intercept = fn
}

func (h *Host) runIntercept(from netip.AddrPort, data []byte) (consumed bool) {
	h.inIntercept = true
	defer func() {
		h.inIntercept = false
		if r := recover(); r != nil {
			fatalf("intercept hook panicked: %v", r)
			consumed = true
		}
	}()
	return h.intercept(h, AddressFrom(from), data)
}

func (h *Host) checkReentry(op string) {
	if h.inIntercept {
		panic("enet: Host." + op + " called from intercept hook")
	}
}
