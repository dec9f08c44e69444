// Package seqspace implements the 8-bit circular sequence numbers carried in
// every GBN header. Comparisons are only meaningful between values that stay
// within half the ring of each other, which the window size guarantees.
package seqspace

import (
	"fmt"
	"iter"
)

const (
	Mod  = 1 << 8 // size of the ring (one unsigned byte on the wire)
	Half = Mod >> 1
)

// Seq is a sequence number in [0, Mod).
type Seq uint8

// New reduces n modulo Mod. Negative values wrap from the top of the ring.
func New(n int) Seq {
	n %= Mod
	if n < 0 {
		n += Mod
	}
	return Seq(n)
}

func (s Seq) Int() int { return int(s) }

func (s Seq) String() string { return fmt.Sprintf("Seq(%d)", uint8(s)) }

// Add returns s+k on the ring.
func (s Seq) Add(k int) Seq {
	return New(int(s) + k)
}

// diff is (s - o) mod Mod re-based to (-Half, Half].
func (s Seq) diff(o Seq) int {
	d := int(s - o)
	if d > Half {
		d -= Mod
	}
	return d
}

// Compare returns -1 if s is behind o, 0 if equal and +1 if s is ahead of o.
func (s Seq) Compare(o Seq) int {
	switch d := s.diff(o); {
	case d < 0:
		return -1
	case d > 0:
		return 1
	}
	return 0
}

// Less reports whether o is ahead of s within half the ring.
func (s Seq) Less(o Seq) bool { return s.diff(o) < 0 }

func (s Seq) LessEq(o Seq) bool { return s.diff(o) <= 0 }

// Distance is the number of steps walking forward from a to b.
func Distance(a, b Seq) int {
	return int(b - a)
}

// InWindow reports whether s lies in [start, end) walking forward from start.
func (s Seq) InWindow(start, end Seq) bool {
	return Distance(start, s) < Distance(start, end)
}

// Range yields start, start+1, ... up to but excluding end. Ranging over the
// result twice walks the same values again.
func Range(start, end Seq) iter.Seq[Seq] {
	return func(yield func(Seq) bool) {
		for s := start; s != end; s++ {
			if !yield(s) {
				return
			}
		}
	}
}
