package util

import (
	"testing"
	"time"
)

func TestFormatBytesWidth(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		got := formatBytes(tc.in)
		if got != tc.want {
			t.Errorf("formatBytes(%v) mismatch: got %q, want %q", tc.in, got, tc.want)
		}
		if len(got) != 8 {
			t.Errorf("formatBytes(%v) width mismatch: got %d, want 8", tc.in, len(got))
		}
	}
}

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.AddSent(100)
	c.AddSent(20)
	c.AddReceived(7)
	c.Connects.Add(1)

	s := c.Snapshot()
	if s.DatagramsSent != 2 || s.BytesSent != 120 {
		t.Errorf("sent mismatch: got %d datagrams / %d bytes, want 2 / 120", s.DatagramsSent, s.BytesSent)
	}
	if s.DatagramsReceived != 1 || s.BytesReceived != 7 {
		t.Errorf("received mismatch: got %d datagrams / %d bytes, want 1 / 7", s.DatagramsReceived, s.BytesReceived)
	}
	if s.Connects != 1 {
		t.Errorf("connects mismatch: got %d, want 1", s.Connects)
	}
}

func TestSeedFromEndpoint(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := SeedFromEndpoint("127.0.0.1:7777", now)
	if a != SeedFromEndpoint("127.0.0.1:7777", now) {
		t.Error("seed is not deterministic")
	}
	if a == SeedFromEndpoint("127.0.0.1:7778", now) {
		t.Error("seed does not depend on the endpoint")
	}
	if a == SeedFromEndpoint("127.0.0.1:7777", now.Add(time.Nanosecond)) {
		t.Error("seed does not depend on the time")
	}
}
