package mqtt

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable.
//
// Reefer events are kept in order up to capacity; once full the oldest is
// dropped. Retained messages describe current state, so only the latest per
// topic is kept and they never count against capacity.
// Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	capacity int
	events   []bufferedMsg
	retained []bufferedMsg // latest per topic, in first-seen order
	dropped  int
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		capacity: capacity,
		events:   make([]bufferedMsg, 0, capacity),
	}
}

// add queues msg. It returns true when this call dropped the first event
// since the last drain.
func (o *outbox) add(msg bufferedMsg) bool {
	if msg.retained {
		for i := range o.retained {
			if o.retained[i].topic == msg.topic {
				o.retained[i] = msg
				return false
			}
		}
		o.retained = append(o.retained, msg)
		return false
	}

	if len(o.events) < o.capacity {
		o.events = append(o.events, msg)
		return false
	}
	copy(o.events, o.events[1:])
	o.events[len(o.events)-1] = msg
	o.dropped++
	return o.dropped == 1
}

// drain returns the queued events oldest first, followed by the retained
// state, and how many events were lost. The outbox is empty afterwards.
func (o *outbox) drain() ([]bufferedMsg, int) {
	n := len(o.events) + len(o.retained)
	if n == 0 {
		dropped := o.dropped
		o.dropped = 0
		return nil, dropped
	}

	out := make([]bufferedMsg, 0, n)
	out = append(out, o.events...)
	out = append(out, o.retained...)
	dropped := o.dropped

	o.events = o.events[:0]
	o.retained = nil
	o.dropped = 0
	return out, dropped
}

func (o *outbox) len() int {
	return len(o.events) + len(o.retained)
}
