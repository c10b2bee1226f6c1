package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"remindd/internal/config"
	"remindd/internal/engine"
	"remindd/internal/notify"
	"remindd/internal/push"
	"remindd/internal/scheduler"
	"remindd/internal/store"
)

func main() {
	cfgFile := flag.String("config", "", "path to config file (optional; env vars always apply)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.Database.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	st := store.NewSQLiteStore(db)

	var transport push.Transport = push.LogTransport{}
	if cfg.Push.CredentialsFile != "" {
		fcm, err := push.NewFCM(context.Background(), cfg.Push.CredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("init push transport")
		}
		transport = fcm
	} else {
		log.Warn().Msg("no push credentials configured, using dry-run transport")
	}

	dispatcher := notify.NewDispatcher(st, transport, st)
	sched := scheduler.New(st, dispatcher)
	eng := engine.New(st, sched, dispatcher, cfg.Sweep.Interval)

	if err := eng.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("start reminder engine")
	}

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	eng.Stop()
}
