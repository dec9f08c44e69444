// gbnlocal runs a sender and a receiver in one process over an in-memory
// datagram pipe, which makes it easy to watch the protocol under different
// fault rates without two terminals.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"gbn/gbnapi"
	"gbn/records"
	"gbn/udtapi"

	"github.com/pion/transport/v2/dpipe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type result struct {
	stats gbnapi.Stats
	err   error
}

func main() {
	cfg := gbnapi.DefaultConfig()
	cfg.BindFlags(flag.CommandLine)
	lines := flag.Int("lines", 100, "number of generated text lines to transfer")
	seed := flag.Uint64("seed", 0, "seed for both fault models (0 picks random ones)")
	quiet := flag.Bool("quiet", false, "do not print delivered data")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		Level(lvl).With().Timestamp().Logger()
	cfg.Logger = log.Logger

	sendCfg, recvCfg := cfg, cfg
	if *seed != 0 {
		sendCfg.Faults = udtapi.NewRandomFaults(cfg.LossRate, cfg.PacketErrorRate, cfg.MeanDelay).Seeded(*seed)
		recvCfg.Faults = udtapi.NewRandomFaults(cfg.LossRate, cfg.PacketErrorRate, cfg.MeanDelay).Seeded(*seed + 1)
	}

	a, b := dpipe.Pipe()
	sender, err := gbnapi.NewSender(a, sendCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("configure sender")
	}
	receiver, err := gbnapi.NewReceiver(b, recvCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("configure receiver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	sdone := make(chan result, 1)
	rdone := make(chan result, 1)
	go func() {
		st, err := sender.Run(ctx)
		sdone <- result{st, err}
	}()
	go func() {
		st, err := receiver.Run(ctx)
		rdone <- result{st, err}
	}()

	go func() {
		for rec := range records.Generate(*lines) {
			if err := sender.Submit(rec); err != nil {
				log.Error().Err(err).Msg("submit")
				break
			}
		}
		sender.Close()
	}()

	for {
		data, err := receiver.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error().Err(err).Msg("recv")
			break
		}
		if !*quiet {
			os.Stdout.Write(data)
		}
	}

	sres, rres := <-sdone, <-rdone
	cfg.Print(os.Stderr)
	sres.stats.Print(os.Stderr)
	rres.stats.Print(os.Stderr)
	if sres.err != nil || rres.err != nil {
		os.Exit(1)
	}
}
