package enet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacketCopies(t *testing.T) {
	data := []byte("payload")
	p, err := NewPacket(data, ReliableSequenced)
	require.NoError(t, err)

	data[0] = 'X'
	assert.Equal(t, []byte("payload"), p.Data())
	assert.Equal(t, 7, p.Len())
	assert.Equal(t, ReliableSequenced, p.Mode())
	assert.False(t, p.unreliableFragments)
}

func TestNewPacketUnknownMode(t *testing.T) {
	_, err := NewPacket(nil, PacketMode(9))
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestPacketModes(t *testing.T) {
	assert.True(t, ReliableSequenced.IsReliable())
	assert.True(t, ReliableSequenced.IsSequenced())
	assert.False(t, UnreliableSequenced.IsReliable())
	assert.True(t, UnreliableSequenced.IsSequenced())
	assert.False(t, UnreliableUnsequenced.IsSequenced())
	assert.Equal(t, "unreliable-unsequenced", UnreliableUnsequenced.String())
	assert.Equal(t, "PacketMode(7)", PacketMode(7).String())

	p, err := NewPacket(make([]byte, 10), UnreliableSequenced, UnreliableFragments())
	require.NoError(t, err)
	assert.True(t, p.unreliableFragments)
}
