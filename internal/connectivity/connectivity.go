// Package connectivity carries source connect/disconnect notifications from
// callback goroutines to the publish loop.
package connectivity

import "fmt"

// Kind is the connectivity edge an event reports.
type Kind uint8

const (
	// Connected reports that the source accepted the session.
	Connected Kind = iota + 1
	// Disconnected reports that the session to the source was lost.
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is a single connectivity notification.
type Event struct {
	Kind    Kind
	Address string
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Address)
}

// Status is the current connectivity level. The zero value is Disconnected.
type Status struct {
	Connected bool
	Address   string
}

// ConnectedTo returns a Connected status for addr.
func ConnectedTo(addr string) Status {
	return Status{Connected: true, Address: addr}
}

// NotConnected is the Disconnected status.
var NotConnected = Status{}

func (s Status) String() string {
	if s.Connected {
		return "connected " + s.Address
	}
	return "disconnected"
}
