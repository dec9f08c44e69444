package gbnapi

import (
	"flag"
	"fmt"
	"io"
	"time"

	"gbn/seqspace"
	"gbn/udtapi"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config holds the protocol parameters of one entity. There is no global
// state; every Sender and Receiver gets its own copy.
type Config struct {
	PacketErrorRate float64       // probability a sent datagram gets one bit flipped
	LossRate        float64       // probability a sent datagram is dropped
	MeanDelay       time.Duration // mean of the exponential send delay
	TimeoutInterval time.Duration // sender retransmission timeout
	WindowSize      int           // N
	DrainInterval   time.Duration // receiver lingering in Closing; 4 * TimeoutInterval when zero

	// Faults overrides the random fault model built from the rates above.
	Faults udtapi.FaultModel
	// Logger is the parent logger; the zero value discards everything.
	Logger zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		PacketErrorRate: 0.1,
		LossRate:        0.1,
		MeanDelay:       200 * time.Millisecond,
		TimeoutInterval: 500 * time.Millisecond,
		WindowSize:      8,
		Logger:          zerolog.Nop(),
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	switch {
	case c.PacketErrorRate < 0 || c.PacketErrorRate > 1:
		return errors.Wrapf(ErrInvalidArgument, "PacketErrorRate %v not in [0,1]", c.PacketErrorRate)
	case c.LossRate < 0 || c.LossRate > 1:
		return errors.Wrapf(ErrInvalidArgument, "LossRate %v not in [0,1]", c.LossRate)
	case c.MeanDelay < 0:
		return errors.Wrapf(ErrInvalidArgument, "MeanDelay %v is negative", c.MeanDelay)
	case c.TimeoutInterval <= 0:
		return errors.Wrapf(ErrInvalidArgument, "TimeoutInterval %v must be positive", c.TimeoutInterval)
	case c.WindowSize < 1 || c.WindowSize >= seqspace.Half:
		// a window of half the ring or more makes old and new sequence
		// numbers indistinguishable
		return errors.Wrapf(ErrInvalidArgument, "WindowSize %d not in [1,%d)", c.WindowSize, seqspace.Half)
	case c.DrainInterval < 0:
		return errors.Wrapf(ErrInvalidArgument, "DrainInterval %v is negative", c.DrainInterval)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.DrainInterval == 0 {
		c.DrainInterval = 4 * c.TimeoutInterval
	}
	if c.Faults == nil {
		c.Faults = udtapi.NewRandomFaults(c.LossRate, c.PacketErrorRate, c.MeanDelay)
	}
	return c
}

// BindFlags registers one command-line option per protocol parameter, with
// the current values of c as defaults.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.Float64Var(&c.PacketErrorRate, "per", c.PacketErrorRate, "probability a sent packet is corrupted")
	fs.Float64Var(&c.LossRate, "loss", c.LossRate, "probability a sent packet is dropped")
	fs.DurationVar(&c.MeanDelay, "delay", c.MeanDelay, "mean of the exponential send delay")
	fs.DurationVar(&c.TimeoutInterval, "timeout", c.TimeoutInterval, "retransmission timeout")
	fs.IntVar(&c.WindowSize, "window", c.WindowSize, "window size N")
	fs.DurationVar(&c.DrainInterval, "drain", c.DrainInterval, "receiver linger after FINACK (0 = 4 * timeout)")
}

// Print writes the parameter banner shown next to the receiver statistics.
func (c Config) Print(w io.Writer) {
	fmt.Fprintf(w, "Window size (N)   : %d\n", c.WindowSize)
	fmt.Fprintf(w, "Timeout interval  : %v\n", c.TimeoutInterval)
	fmt.Fprintf(w, "Loss rate         : %.2f\n", c.LossRate)
	fmt.Fprintf(w, "Packet error rate : %.2f\n", c.PacketErrorRate)
	fmt.Fprintf(w, "Mean delay        : %v\n", c.MeanDelay)
}
