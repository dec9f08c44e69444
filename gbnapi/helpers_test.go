package gbnapi

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"gbn/packet"
	"gbn/seqspace"
	"gbn/udtapi"

	"github.com/rs/zerolog"
)

type key struct {
	typ packet.Type
	seq int
}

// scriptFaults drops chosen packets a fixed number of times and counts
// every send it is asked about.
type scriptFaults struct {
	mu    sync.Mutex
	drops map[key]int
	seen  map[key]int
}

func newScriptFaults() *scriptFaults {
	return &scriptFaults{drops: map[key]int{}, seen: map[key]int{}}
}

func (f *scriptFaults) dropOnce(typ packet.Type, seq int) *scriptFaults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops[key{typ, seq}]++
	return f
}

func (f *scriptFaults) Drop(pkt packet.Packet) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key{pkt.Type(), pkt.Seq().Int()}
	f.seen[k]++
	if f.drops[k] > 0 {
		f.drops[k]--
		return true
	}
	return false
}

func (f *scriptFaults) Corrupt(packet.Packet) (int, bool) { return 0, false }

func (f *scriptFaults) Delay() time.Duration { return 0 }

func (f *scriptFaults) count(typ packet.Type, seq int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[key{typ, seq}]
}

func testLogger(t *testing.T) zerolog.Logger {
	// Info and above only: debug lines come from the reader goroutine, which
	// may still be unwinding when a test returns.
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.InfoLevel)
}

func testConfig(t *testing.T, faults udtapi.FaultModel) Config {
	cfg := DefaultConfig()
	cfg.TimeoutInterval = 100 * time.Millisecond
	cfg.Faults = faults
	cfg.Logger = testLogger(t)
	return cfg
}

type runResult struct {
	stats Stats
	err   error
}

func goRun(ctx context.Context, run func(context.Context) (Stats, error)) <-chan runResult {
	res := make(chan runResult, 1)
	go func() {
		st, err := run(ctx)
		res <- runResult{st, err}
	}()
	return res
}

// peerRead reads one datagram from the far end of a pipe.
func peerRead(t *testing.T, conn net.Conn) packet.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, packet.MaxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	return packet.Packet(buf[:n])
}

func peerSilent(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(30 * time.Millisecond))
	buf := make([]byte, packet.MaxDatagram)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("unexpected datagram %s", packet.Packet(buf[:n]))
	}
}

func mustPacket(t *testing.T, typ packet.Type, seq int, payload string) packet.Packet {
	t.Helper()
	pkt, err := packet.Encode(typ, seqspace.New(seq), []byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	return pkt
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
