package enet

import "github.com/based-collective/citizen-enet/internal/compress"

// Compressor compresses the command section of outgoing datagrams. Both
// ends of a connection must use the same compressor.
type Compressor interface {
	// Compress appends the compressed form of src to dst[:0]. A result
	// not shorter than src is sent uncompressed.
	Compress(dst, src []byte) []byte
	// Decompress returns the decompressed form of src, failing when it
	// would exceed limit bytes.
	Decompress(dst, src []byte, limit int) ([]byte, error)
}

// WithCompressor enables datagram compression with c.
func WithCompressor(c Compressor) HostOption {
	return func(h *Host) { h.compressor = c }
}

// WithS2Compression enables datagram compression with the s2 block format.
func WithS2Compression() HostOption {
	return WithCompressor(compress.S2{})
}
