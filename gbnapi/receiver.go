package gbnapi

import (
	"context"
	"io"
	"net"
	"sync/atomic"

	"gbn/packet"
	"gbn/seqspace"

	"github.com/pkg/errors"
)

// Receiver is the receiving GBN entity. It delivers in-order payloads to the
// application exactly once and acknowledges cumulatively.
type Receiver struct {
	*entity

	up chan []byte // delivered records; an empty one marks end of stream

	expected seqspace.Seq
	lastAck  packet.Packet // resent on anything out of order or corrupt

	eof atomic.Bool // the application consumed the end-of-stream marker
}

// NewReceiver builds a receiver on a connected datagram transport. The
// receiver owns conn from now on and closes it when it reaches Closed.
func NewReceiver(conn net.Conn, cfg Config) (*Receiver, error) {
	e, err := newEntity(receiverName, conn, cfg)
	if err != nil {
		return nil, err
	}
	// Nothing has been received yet, so the last in-order packet is the one
	// before 0. A sender never has that outstanding and ignores it.
	lastAck, err := packet.Encode(packet.ACK, seqspace.New(-1), nil)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		entity:  e,
		up:      make(chan []byte, e.cfg.WindowSize),
		lastAck: lastAck,
	}, nil
}

// Recv returns the next delivered record in order. It returns io.EOF once
// the sender's end of stream has been delivered, and an error if the
// receiver reached Closed any other way.
func (r *Receiver) Recv() ([]byte, error) {
	if r.eof.Load() {
		return nil, io.EOF
	}
	select {
	case data := <-r.up:
		return r.record(data)
	case <-r.done:
	}
	// Closed; hand out what was delivered before giving up.
	select {
	case data := <-r.up:
		return r.record(data)
	default:
	}
	if r.err != nil {
		return nil, r.err
	}
	return nil, errors.Wrap(ErrClosed, "recv")
}

func (r *Receiver) record(data []byte) ([]byte, error) {
	if len(data) == 0 {
		r.eof.Store(true)
		return nil, io.EOF
	}
	return data, nil
}

// Run drives the receiver until it reaches Closed, the transport fails or
// ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.startReader(ctx)
	r.log.Info().Int("window", r.cfg.WindowSize).Dur("drain", r.cfg.DrainInterval).Msg("GBNrecv started")

	for r.State() != Closed {
		ev, err := r.getEvent(ctx, nil)
		if err != nil {
			return r.finish(err)
		}
		r.markStarted()
		r.logEvent(ev, r.expected, r.expected)

		switch r.State() {
		case Wait:
			err = r.handleWait(ctx, ev)
		case Closing:
			err = r.handleClosing(ctx, ev)
		}
		if err != nil {
			return r.finish(err)
		}
	}
	return r.finish(nil)
}

func (r *Receiver) handleWait(ctx context.Context, ev event) error {
	switch ev.kind {
	case RecvDATA:
		if ev.pkt.Seq() != r.expected {
			return r.send(ctx, r.lastAck)
		}
		if err := r.deliver(ctx, ev.pkt.Payload()); err != nil {
			return err
		}
		r.records.Add(1)
		return r.acknowledge(ctx, packet.ACK, r.expected.Add(1))
	case RecvFIN:
		if ev.pkt.Seq() != r.expected {
			return r.send(ctx, r.lastAck)
		}
		if err := r.deliver(ctx, nil); err != nil {
			return err
		}
		// expected stays on the FIN: nothing follows it
		if err := r.acknowledge(ctx, packet.FINACK, r.expected); err != nil {
			return err
		}
		r.timer.Start(r.cfg.DrainInterval)
		r.setState(Closing)
	case Corrupt:
		return r.send(ctx, r.lastAck)
	}
	return nil
}

// handleClosing lingers so a lost FINACK can be answered again when the
// sender retransmits its FIN.
func (r *Receiver) handleClosing(ctx context.Context, ev event) error {
	switch ev.kind {
	case RecvFIN:
		if err := r.send(ctx, r.lastAck); err != nil {
			return err
		}
		r.timer.Start(r.cfg.DrainInterval)
	case RecvDATA, Corrupt:
		return r.send(ctx, r.lastAck)
	case Timeout:
		r.setState(Closed)
	}
	return nil
}

// acknowledge sends an ACK or FINACK for the packet before next and makes
// it the one repeated from now on. For a FINACK next is the FIN itself.
func (r *Receiver) acknowledge(ctx context.Context, typ packet.Type, next seqspace.Seq) error {
	seq := r.expected
	r.expected = next
	pkt, err := packet.Encode(typ, seq, nil)
	if err != nil {
		return err
	}
	r.lastAck = pkt
	return r.send(ctx, pkt)
}

// deliver hands a payload to the application, blocking while the queue is
// full. A nil payload is the end-of-stream marker.
func (r *Receiver) deliver(ctx context.Context, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	select {
	case r.up <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
