package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/inkwell-app/realtime/pkg/config"
	"github.com/inkwell-app/realtime/pkg/db"
)

// Schema bootstrap runs here rather than in a migration tool so a fresh
// environment comes up with one command. CREATE ... IF NOT EXISTS keeps it
// idempotent across restarts.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		room_id text,
		id bigint,
		user_id text,
		user_name text,
		user_guest boolean,
		text text,
		created_at timestamp,
		PRIMARY KEY (room_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS dm_messages (
		conversation_id text,
		id bigint,
		sender_id text,
		recipient_id text,
		text text,
		created_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		name text,
		username text,
		avatar text
	)`,
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", "messaging").Logger()

	cfg := config.LoadMessaging()

	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB system keyspace")
	}
	if err := sysSession.Query(
		`CREATE KEYSPACE IF NOT EXISTS ` + cfg.Keyspace +
			` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
	).Exec(); err != nil {
		log.Fatal().Err(err).Msg("failed to create keyspace")
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatal().Err(err).Msg("schema bootstrap failed")
		}
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.GroupID, session)
	defer consumer.Close()

	log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).
		Msg("messaging consumer starting")
	consumer.Consume(context.Background())
}
