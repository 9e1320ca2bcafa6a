package enet

// ThrottleScale is the throttle value at which no unreliable packet is
// dropped.
const ThrottleScale = 32

const (
	DefaultThrottle             = 32
	DefaultThrottleAcceleration = 2
	DefaultThrottleDeceleration = 2
	DefaultThrottleInterval     = 5000 // ms

	throttleCounterStep = 7
)

// throttle holds a peer's unreliable packet throttle. value stays within
// [0, limit] and limit within [0, ThrottleScale].
type throttle struct {
	value   uint32
	limit   uint32
	counter uint32
	epoch   uint32

	interval     uint32
	acceleration uint32
	deceleration uint32
}

func newThrottle() throttle {
	return throttle{
		value:        DefaultThrottle,
		limit:        ThrottleScale,
		interval:     DefaultThrottleInterval,
		acceleration: DefaultThrottleAcceleration,
		deceleration: DefaultThrottleDeceleration,
	}
}

// adjust reacts to a round trip sample against the previous interval's
// lowest round trip time and its variance. It returns 1 when the throttle
// accelerated, -1 when it decelerated and 0 otherwise.
func (t *throttle) adjust(rtt, lastRTT, lastVariance uint32) int {
	switch {
	case lastRTT <= lastVariance:
		t.value = t.limit
		return 0
	case rtt <= lastRTT:
		t.accelerate()
		return 1
	case rtt > lastRTT+2*lastVariance:
		t.decelerate()
		return -1
	}
	return 0
}

func (t *throttle) accelerate() {
	if t.acceleration >= t.limit || t.value >= t.limit-t.acceleration {
		t.value = t.limit
		return
	}
	t.value += t.acceleration
}

func (t *throttle) decelerate() {
	if t.value > t.deceleration {
		t.value -= t.deceleration
	} else {
		t.value = 0
	}
}

// setLimit lowers or raises the ceiling, pulling the value down with it.
func (t *throttle) setLimit(limit uint32) {
	if limit > ThrottleScale {
		limit = ThrottleScale
	}
	t.limit = limit
	if t.value > t.limit {
		t.value = t.limit
	}
}

// drop advances the send counter and reports whether the next unreliable
// packet should be dropped. Over ThrottleScale packets roughly
// (ThrottleScale-value)/ThrottleScale of them are dropped.
func (t *throttle) drop() bool {
	t.counter = (t.counter + throttleCounterStep) % ThrottleScale
	return t.counter > t.value
}
