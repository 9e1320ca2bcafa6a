package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Host counters
// ──────────────────────────────────────────────────────────────────────────────

// Counters are the traffic/connection totals of one host. They are written
// by the goroutine servicing the host and may be read from any goroutine.
type Counters struct {
	DatagramsSent     atomic.Uint64
	DatagramsReceived atomic.Uint64
	DatagramsDropped  atomic.Uint64 // malformed, unknown peer, bad checksum, intercepted
	BytesSent         atomic.Uint64
	BytesReceived     atomic.Uint64
	PacketsSent       atomic.Uint64 // application packets queued for sending
	PacketsReceived   atomic.Uint64 // application packets delivered
	PacketsThrottled  atomic.Uint64 // unreliable packets dropped by the throttle
	Retransmissions   atomic.Uint64
	Connects          atomic.Uint64
	Disconnects       atomic.Uint64
	FailedConnects    atomic.Uint64
}

func (c *Counters) AddSent(n int) {
	c.DatagramsSent.Add(1)
	c.BytesSent.Add(uint64(n))
}

func (c *Counters) AddReceived(n int) {
	c.DatagramsReceived.Add(1)
	c.BytesReceived.Add(uint64(n))
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	DatagramsSent     uint64
	DatagramsReceived uint64
	DatagramsDropped  uint64
	BytesSent         uint64
	BytesReceived     uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	PacketsThrottled  uint64
	Retransmissions   uint64
	Connects          uint64
	Disconnects       uint64
	FailedConnects    uint64
}

// Snapshot loads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DatagramsSent:     c.DatagramsSent.Load(),
		DatagramsReceived: c.DatagramsReceived.Load(),
		DatagramsDropped:  c.DatagramsDropped.Load(),
		BytesSent:         c.BytesSent.Load(),
		BytesReceived:     c.BytesReceived.Load(),
		PacketsSent:       c.PacketsSent.Load(),
		PacketsReceived:   c.PacketsReceived.Load(),
		PacketsThrottled:  c.PacketsThrottled.Load(),
		Retransmissions:   c.Retransmissions.Load(),
		Connects:          c.Connects.Load(),
		Disconnects:       c.Disconnects.Load(),
		FailedConnects:    c.FailedConnects.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs host statistics every
// interval. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration, snapshot func() Snapshot) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		prev := snapshot()
		for {
			select {
			case <-ticker.C:
				cur := snapshot()

				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				inS := float64(cur.BytesReceived-prev.BytesReceived) / secs
				upC := int64(cur.Connects - prev.Connects)
				downC := int64(cur.Disconnects - prev.Disconnects)

				if upC > 0 || downC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, upC, downC, cur.Retransmissions-prev.Retransmissions))
				}

				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted line of interval stats for the logger.
func formatStats(inS, outS float64, upC, downC int64, retransmits uint64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Peers: %2d↑ %2d↓ | Retransmits: %d",
		formatBytes(inS),
		formatBytes(outS),
		upC,
		downC,
		retransmits,
	)
}
