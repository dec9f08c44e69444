package main

import (
	"context"
	"flag"
	"fmt"
	"iter"
	"os"
	"os/signal"
	"time"

	"gbn/gbnapi"
	"gbn/records"
	"gbn/udtapi"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := gbnapi.DefaultConfig()
	cfg.BindFlags(flag.CommandLine)
	local := flag.String("local", ":9977", "local UDP address")
	peer := flag.String("peer", "127.0.0.1:9988", "receiver UDP address")
	lines := flag.Int("lines", 0, "send N generated text lines instead of reading input")
	file := flag.String("file", "", "read records from this file instead of stdin")
	seed := flag.Uint64("seed", 0, "seed for the fault model (0 picks a random one)")
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
	if *seed != 0 {
		cfg.Faults = udtapi.NewRandomFaults(cfg.LossRate, cfg.PacketErrorRate, cfg.MeanDelay).Seeded(*seed)
	}

	var readErr error
	var input iter.Seq[[]byte]
	switch {
	case *lines > 0:
		input = records.Generate(*lines)
	case *file != "":
		f, err := os.Open(*file)
		if err != nil {
			log.Fatal().Err(err).Msg("open input")
		}
		defer f.Close()
		input = records.Read(f, &readErr)
	default:
		input = records.Read(os.Stdin, &readErr)
	}

	conn, err := udtapi.Dial(*local, *peer)
	if err != nil {
		log.Fatal().Err(err).Msg("bind")
	}
	sender, err := gbnapi.NewSender(conn, cfg)
	if err != nil {
		conn.Close()
		log.Fatal().Err(err).Msg("configure sender")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	type result struct {
		stats gbnapi.Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := sender.Run(ctx)
		done <- result{st, err}
	}()

	for rec := range input {
		if err := sender.Submit(rec); err != nil {
			log.Error().Err(err).Msg("submit")
			break
		}
	}
	if readErr != nil {
		log.Error().Err(readErr).Msg("read input")
	}
	if err := sender.Close(); err != nil {
		log.Error().Err(err).Msg("close")
	}

	res := <-done
	res.stats.Print(os.Stdout)
	if res.err != nil {
		os.Exit(1)
	}
}
