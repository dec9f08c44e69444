package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"gbn/gbnapi"
	"gbn/udtapi"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := gbnapi.DefaultConfig()
	cfg.BindFlags(flag.CommandLine)
	local := flag.String("local", ":9988", "local UDP address")
	peer := flag.String("peer", "127.0.0.1:9977", "sender UDP address")
	out := flag.String("out", "", "write delivered data to this file instead of stdout")
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

	var dst io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatal().Err(err).Msg("create output")
		}
		defer f.Close()
		dst = f
	}
	w := bufio.NewWriter(dst)
	defer w.Flush()

	conn, err := udtapi.Dial(*local, *peer)
	if err != nil {
		log.Fatal().Err(err).Msg("bind")
	}
	receiver, err := gbnapi.NewReceiver(conn, cfg)
	if err != nil {
		conn.Close()
		log.Fatal().Err(err).Msg("configure receiver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	type result struct {
		stats gbnapi.Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := receiver.Run(ctx)
		done <- result{st, err}
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
		if _, err := w.Write(data); err != nil {
			log.Error().Err(err).Msg("write output")
			break
		}
	}
	w.Flush()

	res := <-done
	cfg.Print(os.Stderr)
	res.stats.Print(os.Stderr)
	if res.err != nil {
		os.Exit(1)
	}
}
