// Package util provides shared utility functions.
package util

import (
	"encoding/binary"
	"hash/fnv"
	"time"
)

// SeedFromEndpoint derives a host's initial connect-id seed from its bound
// address and the creation time, so that hosts started on different
// endpoints or at different times do not reuse connect ids.
func SeedFromEndpoint(local string, now time.Time) uint32 {
	h := fnv.New32a()
	h.Write([]byte(local))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.UnixNano()))
	h.Write(ts[:])
	return h.Sum32()
}
