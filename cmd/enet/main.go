// Command enet runs a reliable-UDP host. "enet serve" accepts peers and can
// echo what they send; "enet connect" connects to a server and sends each
// line read from stdin; "enet send" delivers a single packet. Datagrams
// travel over UDP, or over a WebRTC DataChannel negotiated through a
// PIN-protected WebSocket.
package main

import (
	"os"

	"github.com/based-collective/citizen-enet/internal/util"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
