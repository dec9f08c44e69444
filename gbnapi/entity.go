// Package gbnapi implements the two Go-Back-N entities on top of a udtapi
// channel. Each entity is driven by a single goroutine (Run) that pulls one
// event at a time and dispatches it on the current state; the application
// talks to it only through bounded queues.
package gbnapi

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"gbn/packet"
	"gbn/seqspace"
	"gbn/timer"
	"gbn/udtapi"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	senderName   = "GBNsend"
	receiverName = "GBNrecv"
)

// entity is the machinery shared by Sender and Receiver: the channel, the
// reader goroutine feeding it, the timer and the event getter.
type entity struct {
	name  string
	cfg   Config
	ch    *udtapi.Channel
	timer *timer.Timer
	log   zerolog.Logger

	rx    chan packet.Packet
	rxErr chan error

	// application record taken off the queue while blocked, waiting for
	// datagrams and timeouts to be looked at first
	held    []byte
	hasHeld bool

	state   atomic.Int32
	records atomic.Int64
	started atomic.Int64 // unix nanos of the first event
	stopped atomic.Int64 // unix nanos of reaching Closed
	done    chan struct{}
	err     error // set before done is closed
}

func newEntity(name string, conn net.Conn, cfg Config) (*entity, error) {
	if conn == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil transport")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	log := cfg.Logger.With().Str("entity", name).Str("session", uuid.NewString()).Logger()
	return &entity{
		name:  name,
		cfg:   cfg,
		ch:    udtapi.NewChannel(conn, cfg.Faults, log),
		timer: timer.New(),
		log:   log,
		rx:    make(chan packet.Packet, cfg.WindowSize),
		rxErr: make(chan error, 1),
		done:  make(chan struct{}),
	}, nil
}

func (e *entity) State() State { return State(e.state.Load()) }

func (e *entity) setState(s State) { e.state.Store(int32(s)) }

// Done is closed once the entity reached Closed and released its transport.
func (e *entity) Done() <-chan struct{} { return e.done }

func (e *entity) Stats() Stats {
	st := Stats{Entity: e.name, Records: e.records.Load(), Counters: e.ch.Counters()}
	if start := e.started.Load(); start != 0 {
		end := e.stopped.Load()
		if end == 0 {
			end = time.Now().UnixNano()
		}
		st.Elapsed = time.Duration(end - start)
	}
	return st
}

func (e *entity) startReader(ctx context.Context) {
	go func() {
		if err := e.ch.ReadLoop(ctx, e.rx); err != nil {
			e.rxErr <- err
		}
	}()
}

// getEvent returns the next event. Sources are polled in a fixed priority:
// datagram, transport failure, timeout, application. app is nil whenever
// the current state may not take new application data. When nothing is
// ready it blocks on all sources at once and polls again after waking.
func (e *entity) getEvent(ctx context.Context, app <-chan []byte) (event, error) {
	for {
		select {
		case pkt := <-e.rx:
			return datagramEvent(pkt), nil
		default:
		}
		select {
		case err := <-e.rxErr:
			return event{}, err
		default:
		}
		if e.timer.Expired() {
			return event{kind: Timeout}, nil
		}
		if app != nil {
			if e.hasHeld {
				data := e.held
				e.held, e.hasHeld = nil, false
				return appEvent(data), nil
			}
			select {
			case data := <-app:
				return appEvent(data), nil
			default:
			}
		}

		var appC <-chan []byte
		if !e.hasHeld {
			appC = app
		}
		select {
		case pkt := <-e.rx:
			return datagramEvent(pkt), nil
		case err := <-e.rxErr:
			return event{}, err
		case <-e.timer.Wake():
		case data := <-appC:
			e.held, e.hasHeld = data, true
		case <-ctx.Done():
			return event{}, ctx.Err()
		}
	}
}

func (e *entity) logEvent(ev event, base, next seqspace.Seq) {
	l := e.log.Info().Str("state", e.State().String()).Stringer("event", ev.kind)
	seq := -1
	if ev.pkt != nil && len(ev.pkt) >= packet.HeaderLen {
		seq = ev.pkt.Seq().Int()
		l = l.Int("seq", seq)
	}
	l.Int("base", base.Int()).Int("next", next.Int()).
		Msgf("state %s: %s %d in %d:%d", e.State(), ev.kind, seq, base.Int(), next.Int())
}

// send transmits pkt, mapping channel failures onto ErrTransport. A
// cancelled context is passed through untouched.
func (e *entity) send(ctx context.Context, pkt packet.Packet) error {
	if err := e.ch.Send(ctx, pkt); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transportError(err)
	}
	return nil
}

func (e *entity) markStarted() {
	e.started.CompareAndSwap(0, time.Now().UnixNano())
}

// finish moves to Closed and releases everything. cause is nil on a normal
// shutdown.
func (e *entity) finish(cause error) (Stats, error) {
	e.timer.Stop()
	e.setState(Closed)
	e.markStarted()
	e.stopped.Store(time.Now().UnixNano())
	if err := e.ch.Close(); err != nil {
		e.log.Debug().Err(err).Msg("close transport")
	}

	switch {
	case cause == nil:
	case cause == context.Canceled || cause == context.DeadlineExceeded:
		e.log.Info().Err(cause).Msg("stopped")
	default:
		if errors.Cause(cause) != ErrTransport {
			cause = transportError(cause)
		}
		e.log.Error().Err(cause).Msg("transport failure, closing")
	}
	e.err = cause
	close(e.done)

	st := e.Stats()
	e.log.Info().Object("stats", st).Msg(e.name + " closed")
	return st, cause
}
