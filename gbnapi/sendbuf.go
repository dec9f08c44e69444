package gbnapi

import (
	"iter"

	"gbn/packet"
	"gbn/seqspace"

	"github.com/google/btree"
)

type outstanding struct {
	idx uint64 // send order; sequence numbers wrap, this does not
	seq seqspace.Seq
	pkt packet.Packet
}

// sendBuffer holds the sent but unacknowledged packets, oldest first. The
// oldest entry always carries seq == base.
type sendBuffer struct {
	tree *btree.BTreeG[outstanding]
	next uint64
}

func newSendBuffer() *sendBuffer {
	return &sendBuffer{
		tree: btree.NewG[outstanding](8, func(a, b outstanding) bool { return a.idx < b.idx }),
	}
}

func (b *sendBuffer) Len() int { return b.tree.Len() }

func (b *sendBuffer) Push(seq seqspace.Seq, pkt packet.Packet) {
	b.tree.ReplaceOrInsert(outstanding{idx: b.next, seq: seq, pkt: pkt})
	b.next++
}

// Ack removes the oldest entry if it carries seq.
func (b *sendBuffer) Ack(seq seqspace.Seq) bool {
	oldest, ok := b.tree.Min()
	if !ok || oldest.seq != seq {
		return false
	}
	b.tree.DeleteMin()
	return true
}

// All yields the buffered packets in send order.
func (b *sendBuffer) All() iter.Seq2[seqspace.Seq, packet.Packet] {
	return func(yield func(seqspace.Seq, packet.Packet) bool) {
		b.tree.Ascend(func(o outstanding) bool {
			return yield(o.seq, o.pkt)
		})
	}
}

func (b *sendBuffer) Clear() {
	b.tree.Clear(false)
}
