package connectivity

// Mailbox is a capacity-1 conduit that keeps only the latest event.
// Any number of goroutines may Send; a single consumer receives.
type Mailbox struct {
	ch chan Event
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Event, 1)}
}

// Send stores ev, replacing any event the consumer has not taken yet.
// It never blocks.
func (m *Mailbox) Send(ev Event) {
	for {
		select {
		case m.ch <- ev:
			return
		default:
		}
		// Full: drop the stale event and try again. Another sender may
		// refill the slot between the two selects, hence the loop.
		select {
		case <-m.ch:
		default:
		}
	}
}

// TryRecv returns the pending event, if any, without blocking.
func (m *Mailbox) TryRecv() (Event, bool) {
	select {
	case ev := <-m.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

// C exposes the receive side for select-based waiting.
func (m *Mailbox) C() <-chan Event {
	return m.ch
}
