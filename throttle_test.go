package enet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThrottleAdjust(t *testing.T) {
	th := newThrottle()
	th.value = 10

	assert.Equal(t, 1, th.adjust(40, 50, 5))
	assert.Equal(t, uint32(12), th.value)

	assert.Equal(t, -1, th.adjust(61, 50, 5))
	assert.Equal(t, uint32(10), th.value)

	assert.Equal(t, 0, th.adjust(55, 50, 5))
	assert.Equal(t, uint32(10), th.value)

	// A link whose round trip is within its variance runs unthrottled.
	assert.Equal(t, 0, th.adjust(100, 4, 4))
	assert.Equal(t, th.limit, th.value)
}

func TestThrottleBounds(t *testing.T) {
	th := newThrottle()
	for range 100 {
		th.accelerate()
		assert.LessOrEqual(t, th.value, th.limit)
	}
	assert.Equal(t, uint32(ThrottleScale), th.value)

	for range 100 {
		th.decelerate()
	}
	assert.Zero(t, th.value)

	th.value = ThrottleScale
	th.setLimit(12)
	assert.Equal(t, uint32(12), th.limit)
	assert.Equal(t, uint32(12), th.value)
	th.accelerate()
	assert.Equal(t, uint32(12), th.value)

	th.setLimit(1000)
	assert.Equal(t, uint32(ThrottleScale), th.limit)
}

func TestThrottleDropRatio(t *testing.T) {
	for _, value := range []uint32{0, 8, 16, 24, ThrottleScale} {
		th := newThrottle()
		th.value = value

		dropped := 0
		for range ThrottleScale * 10 {
			if th.drop() {
				dropped++
			}
		}
		// counter walks every residue mod 32; values above th.value drop.
		want := (ThrottleScale - 1 - int(value)) * 10
		if value == ThrottleScale {
			want = 0
		}
		assert.Equal(t, want, dropped, "value %d", value)
	}
}

func TestThrottleAccelerateSaturates(t *testing.T) {
	th := newThrottle()
	th.value = 10
	th.acceleration = math.MaxUint32
	th.accelerate()
	assert.Equal(t, th.limit, th.value)

	th.setLimit(20)
	th.value = 19
	th.acceleration = 5
	th.accelerate()
	assert.Equal(t, uint32(20), th.value)
}
