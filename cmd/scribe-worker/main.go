package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ashdown/scribed/internal/config"
	"github.com/ashdown/scribed/internal/media"
	"github.com/ashdown/scribed/internal/notify"
	"github.com/ashdown/scribed/internal/pipeline"
	"github.com/ashdown/scribed/internal/queue"
	"github.com/ashdown/scribed/internal/storage"
	"github.com/ashdown/scribed/internal/transcribe"
	"github.com/ashdown/scribed/internal/worker"
)

var version = "dev"

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "postgres connection string")
	flag.StringVar(&overrides.UploadsDir, "uploads-dir", "", "directory for uploaded media")
	flag.IntVar(&overrides.Workers, "workers", 0, "concurrent job slots")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	hostname, _ := os.Hostname()
	workerID := hostname + "-" + randomSuffix()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("worker_id", workerID).Logger().Level(level)
	log.Info().Str("version", version).Msg("scribe-worker starting")

	// Video jobs shell out to ffmpeg; refuse to start without it rather
	// than fail every video job at claim time.
	if !media.CheckFFmpeg() {
		log.Fatal().Msg("ffmpeg not found in PATH")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbLog := log.With().Str("component", "queue").Logger()
	db, err := queue.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue backend")
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize queue schema")
	}

	uploads, err := storage.NewStore(cfg.UploadsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open uploads store")
	}
	artifacts, err := storage.NewStore(cfg.TranscriptionsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open transcriptions store")
	}

	// Inference clients are built once here, before any job is claimed.
	transcriber := transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperDevice, cfg.WhisperTimeout)
	var diarizer transcribe.Diarizer
	if cfg.DiarizerURL != "" {
		diarizer = transcribe.NewHTTPDiarizer(cfg.DiarizerURL, cfg.DiarizerAuthToken, cfg.WhisperTimeout)
	}

	var publish worker.EventPublishFunc
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		pub, err := notify.Connect(notify.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID + "-" + workerID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer pub.Close()
		publish = pub.PublishJobEvent
	}

	pipeLog := log.With().Str("component", "pipeline").Logger()
	pipe := pipeline.New(uploads, artifacts, transcriber, diarizer, pipeLog)

	pool := worker.New(worker.Options{
		Store:        db,
		Pipeline:     pipe,
		WorkerID:     workerID,
		Hostname:     hostname,
		Workers:      cfg.Workers,
		PollInterval: cfg.JobPollInterval,
		PublishEvent: publish,
		Log:          log.With().Str("component", "worker").Logger(),
	})
	if err := pool.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	pool.Stop()
	log.Info().Msg("scribe-worker stopped")
}

func randomSuffix() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "000000"
	}
	return hex.EncodeToString(b)
}
