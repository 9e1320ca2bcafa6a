// Package compress provides datagram compressors.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// ErrTooLarge is returned when a compressed block decodes past the limit.
var ErrTooLarge = errors.New("decompressed size exceeds limit")

// S2 compresses with the s2 block format. Blocks carry their decoded
// length, so oversize input is rejected before decoding.
type S2 struct{}

func (S2) Compress(dst, src []byte) []byte {
	if n := s2.MaxEncodedLen(len(src)); n > 0 && cap(dst) < n {
		dst = make([]byte, n)
	}
	return s2.Encode(dst[:cap(dst)], src)
}

func (S2) Decompress(dst, src []byte, limit int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("s2 header: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, limit)
	}
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	out, err := s2.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("s2 decode: %w", err)
	}
	return out, nil
}
