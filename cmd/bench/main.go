package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/downfa11-org/packrat/pkg/bench"
	"github.com/downfa11-org/packrat/util"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma separated kafka brokers")
	topicName := flag.String("topic", "hc-json", "topic to publish healthchecks to")
	format := flag.String("format", "json", "payload format (json, lines)")
	compression := flag.String("compression", "none", "payload compression (none, gzip, snappy, lz4)")
	emitters := flag.Int("emitters", 12, "number of emitters")
	sessions := flag.Int("sessions", 1, "sessions per emitter")
	records := flag.Int("records", 100, "records per session")
	producers := flag.Int("producers", 4, "concurrent producers")
	poison := flag.Int("poison-every", 0, "publish a headerless record after every n records")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := util.MustLogger(util.ParseLogLevel(*logLevel))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	producer, err := bench.NewKafkaProducer(strings.Split(*brokers, ","), logger)
	if err != nil {
		logger.Fatal("create producer", zap.Error(err))
	}
	defer producer.Close()

	runner, err := bench.NewRunner(bench.Options{
		Topic:              *topicName,
		Format:             *format,
		Compression:        *compression,
		Emitters:           *emitters,
		SessionsPerEmitter: *sessions,
		RecordsPerSession:  *records,
		Producers:          *producers,
		PoisonEvery:        *poison,
	}, producer, logger)
	if err != nil {
		logger.Fatal("invalid options", zap.Error(err))
	}

	res, err := runner.Run(ctx)
	res.Print(os.Stdout)
	if err != nil {
		logger.Error("benchmark aborted", zap.Error(err))
		os.Exit(1)
	}
}
