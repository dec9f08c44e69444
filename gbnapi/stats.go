package gbnapi

import (
	"fmt"
	"io"
	"time"

	"gbn/udtapi"

	"github.com/rs/zerolog"
)

// Stats is a snapshot of one entity's counters.
type Stats struct {
	Entity  string
	Records int64 // data records taken from the application (sender) or delivered to it (receiver)
	udtapi.Counters
	Elapsed time.Duration // from the first event to Closed, or to now while running
}

// Throughput is records per second over Elapsed.
func (s Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Records) / s.Elapsed.Seconds()
}

func (s Stats) Print(w io.Writer) {
	label := "data requested"
	if s.Entity == receiverName {
		label = "data delivered"
	}
	fmt.Fprintf(w, "%s:\n", s.Entity)
	fmt.Fprintf(w, "  %-17s: %d\n", label, s.Records)
	fmt.Fprintf(w, "  %-17s: %d\n", "packets sent", s.Sent)
	fmt.Fprintf(w, "  %-17s: %d\n", "packets lost", s.Lost)
	fmt.Fprintf(w, "  %-17s: %d\n", "packets corrupt", s.Corrupted)
	fmt.Fprintf(w, "  %-17s: %d\n", "packets received", s.Received)
	if s.Entity == receiverName {
		fmt.Fprintf(w, "  %-17s: %.3fs\n", "elapsed", s.Elapsed.Seconds())
		fmt.Fprintf(w, "  %-17s: %.2f records/s\n", "throughput", s.Throughput())
	}
}

func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("records", s.Records).
		Int64("sent", s.Sent).
		Int64("lost", s.Lost).
		Int64("corrupted", s.Corrupted).
		Int64("received", s.Received).
		Dur("elapsed", s.Elapsed).
		Float64("throughput", s.Throughput())
}
