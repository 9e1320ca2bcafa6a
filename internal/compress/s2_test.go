package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS2RoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("reliable udp "), 100)

	var c S2
	enc := c.Compress(nil, src)
	assert.Less(t, len(enc), len(src))

	dec, err := c.Decompress(nil, enc, len(src))
	require.NoError(t, err)
	assert.Equal(t, src, dec)
}

func TestS2DecompressLimit(t *testing.T) {
	src := bytes.Repeat([]byte{0}, 4096)

	var c S2
	enc := c.Compress(nil, src)
	_, err := c.Decompress(nil, enc, 1024)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestS2DecompressGarbage(t *testing.T) {
	var c S2
	_, err := c.Decompress(nil, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 1<<20)
	assert.Error(t, err)
}

func TestS2ReusesBuffer(t *testing.T) {
	src := bytes.Repeat([]byte("abcd"), 64)
	buf := make([]byte, 0, 4096)

	var c S2
	enc := c.Compress(buf, src)
	assert.Equal(t, &buf[:1][0], &enc[:1][0])
}
