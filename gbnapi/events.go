package gbnapi

import (
	"fmt"

	"gbn/packet"
)

// State of an entity's FSM. Both entities share the same three states.
type State int32

const (
	Wait State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Wait:
		return "Wait"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Event is what woke the FSM. Datagram events reuse the packet type code.
type Event int

const (
	RecvDATA   = Event(packet.DATA)
	RecvACK    = Event(packet.ACK)
	RecvFIN    = Event(packet.FIN)
	RecvFINACK = Event(packet.FINACK)
	Timeout    Event = 16
	AppSend    Event = 17
	AppClose   Event = 18
	Corrupt    Event = 19
)

func (e Event) String() string {
	switch e {
	case RecvDATA:
		return "Recv_DATA"
	case RecvACK:
		return "Recv_ACK"
	case RecvFIN:
		return "Recv_FIN"
	case RecvFINACK:
		return "Recv_FINACK"
	case Timeout:
		return "TIMEOUT"
	case AppSend:
		return "App_SEND"
	case AppClose:
		return "App_CLOSE"
	case Corrupt:
		return "CORRUPT"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

type event struct {
	kind Event
	pkt  packet.Packet // datagram events
	data []byte        // App_SEND
}

// datagramEvent classifies a received datagram. An uncorrupted datagram with
// an unknown type code becomes an event no state handles.
func datagramEvent(pkt packet.Packet) event {
	if packet.IsCorrupt(pkt) {
		return event{kind: Corrupt, pkt: pkt}
	}
	return event{kind: Event(pkt.Type()), pkt: pkt}
}

// appEvent turns an application queue entry into an event; the empty record
// is the close sentinel.
func appEvent(data []byte) event {
	if len(data) == 0 {
		return event{kind: AppClose}
	}
	return event{kind: AppSend, data: data}
}
