// Package udtapi is the unreliable data transfer channel GBN runs on. Sends
// go through a FaultModel that can drop, corrupt or delay each datagram;
// receives are passed through untouched so corruption is only ever detected
// by the packet checksum.
package udtapi

import (
	"context"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gbn/packet"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Decides what happens to a single outgoing datagram. The three decisions
// are taken independently on every send.
type FaultModel interface {
	Drop(pkt packet.Packet) bool
	Corrupt(pkt packet.Packet) (bit int, ok bool)
	Delay() time.Duration
}

// RandomFaults drops with probability LossRate, flips one random bit with
// probability PacketErrorRate and delays by an exponential draw with mean
// MeanDelay.
type RandomFaults struct {
	LossRate        float64
	PacketErrorRate float64
	MeanDelay       time.Duration

	mu  sync.Mutex
	rng *rand.Rand // nil means the global source
}

func NewRandomFaults(lossRate, packetErrorRate float64, meanDelay time.Duration) *RandomFaults {
	return &RandomFaults{LossRate: lossRate, PacketErrorRate: packetErrorRate, MeanDelay: meanDelay}
}

// Seeded fixes the random source so a run can be replayed.
func (f *RandomFaults) Seeded(seed uint64) *RandomFaults {
	f.mu.Lock()
	f.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	f.mu.Unlock()
	return f
}

func (f *RandomFaults) float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rng == nil {
		return rand.Float64()
	}
	return f.rng.Float64()
}

func (f *RandomFaults) intN(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rng == nil {
		return rand.IntN(n)
	}
	return f.rng.IntN(n)
}

func (f *RandomFaults) Drop(packet.Packet) bool {
	return f.float64() < f.LossRate
}

func (f *RandomFaults) Corrupt(pkt packet.Packet) (int, bool) {
	if len(pkt) == 0 || f.float64() >= f.PacketErrorRate {
		return 0, false
	}
	return f.intN(len(pkt) * 8), true
}

func (f *RandomFaults) Delay() time.Duration {
	if f.MeanDelay <= 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var e float64
	if f.rng == nil {
		e = rand.ExpFloat64()
	} else {
		e = f.rng.ExpFloat64()
	}
	return time.Duration(e * float64(f.MeanDelay))
}

// Counters is a snapshot of a channel's traffic.
type Counters struct {
	Sent      int64 // every send call, dropped ones included
	Lost      int64 // dropped on purpose
	Corrupted int64 // sent with a flipped bit
	Received  int64
}

// Channel wraps a connected datagram transport (UDP or an in-memory pipe).
type Channel struct {
	conn   net.Conn
	faults FaultModel
	log    zerolog.Logger

	sent      atomic.Int64
	lost      atomic.Int64
	corrupted atomic.Int64
	received  atomic.Int64
}

func NewChannel(conn net.Conn, faults FaultModel, log zerolog.Logger) *Channel {
	return &Channel{conn: conn, faults: faults, log: log}
}

// Send pushes pkt through the fault model and, unless it was dropped, onto
// the transport. A corrupted datagram is always a copy; pkt is never touched
// because the sender keeps it for retransmission.
func (c *Channel) Send(ctx context.Context, pkt packet.Packet) error {
	if c.faults.Drop(pkt) {
		c.log.Info().Stringer("pkt", pkt).Msg("udt_send: [dropping]")
		c.lost.Add(1)
		c.sent.Add(1)
		return nil
	}
	out := pkt
	if bit, ok := c.faults.Corrupt(pkt); ok {
		out = pkt.FlipBit(bit)
		c.log.Info().Stringer("pkt", out).Int("bit", bit).Msg("udt_send: [corrupting]")
		c.corrupted.Add(1)
	} else {
		c.log.Debug().Stringer("pkt", out).Msg("udt_send")
	}

	if d := c.faults.Delay(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	n, err := c.conn.Write(out)
	if err != nil {
		return errors.Wrap(err, "udt_send")
	}
	if n < len(out) {
		return errors.Errorf("udt_send: short write %d of %d bytes", n, len(out))
	}
	c.sent.Add(1)
	return nil
}

// Receive blocks for one datagram.
func (c *Channel) Receive() (packet.Packet, error) {
	buf := make([]byte, packet.MaxDatagram)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, errors.Wrap(err, "rdt_rcv")
	}
	pkt := packet.Packet(buf[:n])
	c.log.Debug().Stringer("pkt", pkt).Msg("rdt_rcv")
	c.received.Add(1)
	return pkt, nil
}

// ReadLoop feeds every received datagram into out until the transport fails
// or ctx is cancelled. The transport error is returned; closing the channel
// is the normal way to stop it.
func (c *Channel) ReadLoop(ctx context.Context, out chan<- packet.Packet) error {
	for {
		pkt, err := c.Receive()
		if err != nil {
			return err
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Channel) Counters() Counters {
	return Counters{
		Sent:      c.sent.Load(),
		Lost:      c.lost.Load(),
		Corrupted: c.corrupted.Load(),
		Received:  c.received.Load(),
	}
}

func (c *Channel) Close() error {
	return c.conn.Close()
}

// Dial binds a UDP socket on local and connects it to peer, so that reads
// only return datagrams from peer and writes need no address.
func Dial(local, peer string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp4", local)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", local)
	}
	raddr, err := net.ResolveUDPAddr("udp4", peer)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", peer)
	}
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s -> %s", local, peer)
	}
	return conn, nil
}
