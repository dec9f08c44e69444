package gbnapi

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"gbn/packet"
	"gbn/seqspace"

	"github.com/pkg/errors"
)

// Sender is the sending GBN entity. Records handed to Submit are sent in
// order with at most WindowSize of them unacknowledged; Close ends the
// stream once everything before it has been acknowledged.
type Sender struct {
	*entity

	down chan []byte // application records; an empty one is the close request

	base       seqspace.Seq // oldest unacknowledged sequence number
	nextseqnum seqspace.Seq // next sequence number to use
	sndpkt     *sendBuffer
	finSeq     seqspace.Seq

	closeOnce      sync.Once
	closeRequested atomic.Bool
}

// NewSender builds a sender on a connected datagram transport. The sender
// owns conn from now on and closes it when it reaches Closed.
func NewSender(conn net.Conn, cfg Config) (*Sender, error) {
	e, err := newEntity(senderName, conn, cfg)
	if err != nil {
		return nil, err
	}
	return &Sender{
		entity: e,
		down:   make(chan []byte, e.cfg.WindowSize),
		sndpkt: newSendBuffer(),
	}, nil
}

// Submit queues one record for transmission, blocking while WindowSize
// records are already queued. The record is copied.
func (s *Sender) Submit(data []byte) error {
	if len(data) == 0 {
		return errors.Wrap(ErrInvalidArgument, "empty record")
	}
	if len(data) > packet.MaxPayload {
		return errors.Wrapf(ErrInvalidArgument, "record of %d bytes exceeds %d", len(data), packet.MaxPayload)
	}
	if s.closeRequested.Load() {
		return errors.Wrap(ErrClosed, "submit after close")
	}
	select {
	case <-s.done:
		return errors.Wrap(ErrClosed, "submit")
	default:
	}
	buf := append([]byte(nil), data...)
	select {
	case s.down <- buf:
		return nil
	case <-s.done:
		return errors.Wrap(ErrClosed, "submit")
	}
}

// Close asks the sender to end the stream after the records already
// submitted. It returns right away; Done reports when the peer has
// acknowledged the end of stream. Calling it again is a no-op.
func (s *Sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closeRequested.Store(true)
		select {
		case s.down <- []byte{}:
		case <-s.done:
			err = errors.Wrap(ErrClosed, "close")
		}
	})
	return err
}

// Run drives the sender until it reaches Closed, the transport fails or ctx
// is cancelled.
func (s *Sender) Run(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.startReader(ctx)
	s.log.Info().Int("window", s.cfg.WindowSize).Dur("timeout", s.cfg.TimeoutInterval).Msg("GBNsend started")

	for s.State() != Closed {
		ev, err := s.getEvent(ctx, s.appSource())
		if err != nil {
			return s.stop(err)
		}
		s.markStarted()
		s.logEvent(ev, s.base, s.nextseqnum)

		switch s.State() {
		case Wait:
			err = s.handleWait(ctx, ev)
		case Closing:
			err = s.handleClosing(ctx, ev)
		}
		if err != nil {
			return s.stop(err)
		}
	}
	return s.stop(nil)
}

func (s *Sender) stop(cause error) (Stats, error) {
	s.sndpkt.Clear()
	return s.finish(cause)
}

// appSource is the application queue while the window has room in Wait.
func (s *Sender) appSource() <-chan []byte {
	if s.State() == Wait && s.sndpkt.Len() < s.cfg.WindowSize {
		return s.down
	}
	return nil
}

func (s *Sender) handleWait(ctx context.Context, ev event) error {
	switch ev.kind {
	case AppSend:
		s.records.Add(1)
		_, err := s.transmit(ctx, packet.DATA, ev.data)
		return err
	case AppClose:
		seq, err := s.transmit(ctx, packet.FIN, nil)
		if err != nil {
			return err
		}
		s.finSeq = seq
		s.setState(Closing)
	case RecvACK:
		s.handleACK(ev.pkt.Seq())
	case Timeout:
		return s.retransmit(ctx)
	}
	// CORRUPT and anything not addressed to a sender is ignored
	return nil
}

func (s *Sender) handleClosing(ctx context.Context, ev event) error {
	switch ev.kind {
	case RecvFINACK:
		if ev.pkt.Seq() == s.finSeq {
			s.timer.Stop()
			s.setState(Closed)
		}
	case RecvACK:
		s.handleACK(ev.pkt.Seq())
	case Timeout:
		return s.retransmit(ctx)
	}
	return nil
}

// transmit buffers a new packet under nextseqnum and sends it. The timer
// only needs starting when nothing was outstanding; otherwise it is already
// running or its expiry is pending.
func (s *Sender) transmit(ctx context.Context, typ packet.Type, data []byte) (seqspace.Seq, error) {
	seq := s.nextseqnum
	pkt, err := packet.Encode(typ, seq, data)
	if err != nil {
		return seq, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	idle := s.sndpkt.Len() == 0
	s.sndpkt.Push(seq, pkt)
	s.nextseqnum = seq.Add(1)
	if err := s.send(ctx, pkt); err != nil {
		return seq, err
	}
	if idle {
		s.timer.Start(s.cfg.TimeoutInterval)
	}
	return seq, nil
}

// handleACK applies a cumulative acknowledgement. Only ACKs for packets in
// [base, nextseqnum) move the window; anything else is stale.
func (s *Sender) handleACK(ack seqspace.Seq) {
	if !ack.InWindow(s.base, s.nextseqnum) {
		s.log.Debug().Int("ack", ack.Int()).Msg("stale ACK ignored")
		return
	}
	for seq := range seqspace.Range(s.base, ack.Add(1)) {
		s.sndpkt.Ack(seq)
	}
	s.base = ack.Add(1)
	if s.base == s.nextseqnum {
		s.timer.Stop()
	} else {
		s.timer.Start(s.cfg.TimeoutInterval)
	}
}

// retransmit resends every outstanding packet, oldest first, and rearms
// the timer.
func (s *Sender) retransmit(ctx context.Context) error {
	if s.sndpkt.Len() == 0 {
		return nil
	}
	for seq, pkt := range s.sndpkt.All() {
		s.log.Info().Int("seq", seq.Int()).Stringer("type", pkt.Type()).Msg("retransmit")
		if err := s.send(ctx, pkt); err != nil {
			return err
		}
	}
	s.timer.Start(s.cfg.TimeoutInterval)
	return nil
}
