package mqtt

// pendingMsg is an outbound message held while the broker is unreachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool

	// key is set for value reports. A held message is superseded by any
	// newer message with the same key.
	key string
}

// outbox is a bounded FIFO for pending messages. When full the oldest
// message is dropped. Only the newest message per key is kept, so a replay
// can never deliver an older value after a newer one.
// Not safe for concurrent use; RealTransport guards it with its mutex.
type outbox struct {
	buf      []pendingMsg
	capacity int
	dropped  int // messages lost for lack of space since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{capacity: capacity}
}

func (o *outbox) push(msg pendingMsg) {
	o.forget(msg.key)
	if len(o.buf) == o.capacity {
		o.buf = o.buf[1:]
		o.dropped++
	}
	o.buf = append(o.buf, msg)
}

// forget removes the held message with key, if any. An empty key matches nothing.
func (o *outbox) forget(key string) {
	if key == "" {
		return
	}
	for i, m := range o.buf {
		if m.key == key {
			o.buf = append(o.buf[:i:i], o.buf[i+1:]...)
			return
		}
	}
}

// restore puts back messages taken by drain that could not be replayed.
// They go before anything held since, unless a newer message with the same
// key is already waiting.
func (o *outbox) restore(msgs []pendingMsg) {
	newer := o.buf
	o.buf = nil
	for _, m := range msgs {
		if m.key != "" && hasKey(newer, m.key) {
			continue
		}
		o.push(m)
	}
	for _, m := range newer {
		o.push(m)
	}
}

func hasKey(msgs []pendingMsg, key string) bool {
	for _, m := range msgs {
		if m.key == key {
			return true
		}
	}
	return false
}

// drain returns the pending messages oldest first, and how many were dropped
// for lack of space since the previous drain.
func (o *outbox) drain() ([]pendingMsg, int) {
	dropped := o.dropped
	o.dropped = 0
	if len(o.buf) == 0 {
		return nil, dropped
	}
	out := o.buf
	o.buf = nil
	return out, dropped
}

func (o *outbox) len() int {
	return len(o.buf)
}
