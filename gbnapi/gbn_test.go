package gbnapi

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"gbn/packet"
	"gbn/udtapi"

	"github.com/pion/transport/v2/dpipe"
)

func TestEventPriority(t *testing.T) {
	s, _ := newTestSender(t)
	ctx := context.Background()

	app := make(chan []byte, 1)
	app <- []byte("new data")
	s.timer.Start(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.rx <- mustPacket(t, packet.ACK, 9, "")

	for _, want := range []Event{RecvACK, Timeout, AppSend} {
		ev, err := s.getEvent(ctx, app)
		if err != nil {
			t.Fatal(err)
		}
		if ev.kind != want {
			t.Fatalf("got %s, expected %s", ev.kind, want)
		}
	}
}

func TestStoppedTimerCancelsPendingTimeout(t *testing.T) {
	s, _ := newTestSender(t)
	ctx := context.Background()

	app := make(chan []byte, 1)
	app <- []byte("x")
	s.timer.Start(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.rx <- mustPacket(t, packet.ACK, 0, "")

	if ev, _ := s.getEvent(ctx, app); ev.kind != RecvACK {
		t.Fatalf("got %s first", ev.kind)
	}
	// the ACK emptied the window
	s.timer.Stop()
	if ev, _ := s.getEvent(ctx, app); ev.kind != AppSend {
		t.Errorf("got %s, expected the stale timeout to be gone", ev.kind)
	}
}

func TestBlockedWaitKeepsPriority(t *testing.T) {
	s, _ := newTestSender(t)
	app := make(chan []byte, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan Event, 1)
	go func() {
		ev, _ := s.getEvent(ctx, app)
		got <- ev.kind
	}()
	time.Sleep(10 * time.Millisecond)
	app <- []byte("late")
	select {
	case kind := <-got:
		if kind != AppSend {
			t.Errorf("got %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked getEvent never woke up")
	}

	// while the window is closed the queue is not even looked at
	app <- []byte("held back")
	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	if _, err := s.getEvent(short, nil); err != context.DeadlineExceeded {
		t.Errorf("err = %v, expected the wait to time out", err)
	}
	if len(app) != 1 {
		t.Error("application data consumed with a closed window")
	}
}

type pairResult struct {
	delivered []string
	sender    Stats
	receiver  Stats
}

// transfer runs a sender and a receiver over an in-memory pipe, submits
// records, calls beforeClose (if any) and closes the stream.
func transfer(t *testing.T, sendCfg, recvCfg Config, records []string, beforeClose func()) pairResult {
	t.Helper()
	a, b := dpipe.Pipe()
	s, err := NewSender(a, sendCfg)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewReceiver(b, recvCfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	sres := goRun(ctx, s.Run)
	rres := goRun(ctx, r.Run)

	deliveredC := make(chan []string, 1)
	go func() {
		var out []string
		for {
			data, err := r.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("Recv: %v", err)
				break
			}
			out = append(out, string(data))
		}
		deliveredC <- out
	}()

	for _, rec := range records {
		if err := s.Submit([]byte(rec)); err != nil {
			t.Errorf("Submit(%q): %v", rec, err)
			break
		}
	}
	if beforeClose != nil {
		beforeClose()
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	sr, rr := <-sres, <-rres
	if sr.err != nil {
		t.Errorf("sender Run: %v", sr.err)
	}
	if rr.err != nil {
		t.Errorf("receiver Run: %v", rr.err)
	}
	if s.State() != Closed || r.State() != Closed {
		t.Errorf("final states %s / %s", s.State(), r.State())
	}
	return pairResult{delivered: <-deliveredC, sender: sr.stats, receiver: rr.stats}
}

func checkDelivered(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("delivered %d records, expected %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %q, expected %q", i, got[i], want[i])
		}
	}
}

func TestTransferABC(t *testing.T) {
	sf, rf := newScriptFaults(), newScriptFaults()
	res := transfer(t, testConfig(t, sf), testConfig(t, rf), []string{"a", "b", "c"}, nil)

	checkDelivered(t, res.delivered, []string{"a", "b", "c"})
	if res.sender.Records != 3 || res.receiver.Records != 3 {
		t.Errorf("records requested %d, delivered %d", res.sender.Records, res.receiver.Records)
	}
	if res.sender.Lost != 0 || res.sender.Corrupted != 0 {
		t.Errorf("fault-free channel reported faults: %+v", res.sender.Counters)
	}
	if n := sf.count(packet.FIN, 3); n < 1 {
		t.Error("FIN never sent with seq 3")
	}
	if n := rf.count(packet.FINACK, 3); n < 1 {
		t.Error("FINACK never sent for seq 3")
	}
}

func TestTransferLostACKRetransmits(t *testing.T) {
	sf := newScriptFaults()
	rf := newScriptFaults().dropOnce(packet.ACK, 3)
	records := []string{"r0", "r1", "r2", "r3"}

	var waited time.Duration
	res := transfer(t, testConfig(t, sf), testConfig(t, rf), records, func() {
		start := time.Now()
		eventually(t, "retransmission of packet 3", func() bool { return sf.count(packet.DATA, 3) == 2 })
		waited = time.Since(start)
		eventually(t, "duplicate ACK 3", func() bool { return rf.count(packet.ACK, 3) == 2 })
	})

	checkDelivered(t, res.delivered, records)
	if waited < 50*time.Millisecond {
		t.Errorf("packet 3 retransmitted after %v, before any timeout could fire", waited)
	}
	for seq := 0; seq < 3; seq++ {
		if n := sf.count(packet.DATA, seq); n != 1 {
			t.Errorf("DATA %d sent %d times, expected once", seq, n)
		}
	}
	if n := sf.count(packet.DATA, 3); n != 2 {
		t.Errorf("DATA 3 sent %d times, expected twice", n)
	}
	if n := rf.count(packet.ACK, 3); n != 2 {
		t.Errorf("ACK 3 sent %d times, expected one duplicate", n)
	}
	if res.receiver.Records != 4 {
		t.Errorf("receiver delivered %d records", res.receiver.Records)
	}
}

func TestTransferTermination(t *testing.T) {
	tests := []struct {
		name   string
		sender *scriptFaults
		recv   *scriptFaults
	}{
		{"FirstFINLost", newScriptFaults().dropOnce(packet.FIN, 2), newScriptFaults()},
		{"FirstFINACKLost", newScriptFaults(), newScriptFaults().dropOnce(packet.FINACK, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			res := transfer(t, testConfig(t, tt.sender), testConfig(t, tt.recv), []string{"x", "y"}, nil)
			checkDelivered(t, res.delivered, []string{"x", "y"})
			if n := tt.sender.count(packet.FIN, 2); n < 2 {
				t.Errorf("FIN sent %d times, expected a retransmission", n)
			}
			// one 100ms timeout to recover plus the 400ms drain interval
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("termination took %v", elapsed)
			}
		})
	}
}

func TestTransferLossy(t *testing.T) {
	const n = 60
	records := make([]string, n)
	for i := range records {
		records[i] = fmt.Sprintf("%05d abcdefghijklmnopqrstuvwxyz\n", i)
	}
	cfg := func(seed uint64) Config {
		c := testConfig(t, udtapi.NewRandomFaults(0.2, 0.1, time.Millisecond).Seeded(seed))
		c.TimeoutInterval = 30 * time.Millisecond
		c.WindowSize = 5
		c.DrainInterval = 20 * c.TimeoutInterval
		return c
	}

	res := transfer(t, cfg(1), cfg(2), records, nil)

	checkDelivered(t, res.delivered, records)
	if res.sender.Records != n || res.receiver.Records != n {
		t.Errorf("records requested %d, delivered %d", res.sender.Records, res.receiver.Records)
	}
	if res.sender.Lost == 0 && res.receiver.Lost == 0 {
		t.Error("lossy channel lost nothing")
	}
	if res.receiver.Elapsed <= 0 || res.receiver.Throughput() <= 0 {
		t.Errorf("receiver elapsed %v throughput %v", res.receiver.Elapsed, res.receiver.Throughput())
	}
}
