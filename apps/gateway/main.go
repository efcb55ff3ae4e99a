package main

import (
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/inkwell-app/realtime/pkg/config"
	"github.com/inkwell-app/realtime/pkg/db"
	"github.com/inkwell-app/realtime/pkg/directory"
	"github.com/inkwell-app/realtime/pkg/dm"
	"github.com/inkwell-app/realtime/pkg/presence"
	"github.com/inkwell-app/realtime/pkg/registry"
	"github.com/inkwell-app/realtime/pkg/room"
	"github.com/inkwell-app/realtime/pkg/snowflake"
	"github.com/inkwell-app/realtime/pkg/store"
)

// Gateway bundles the realtime core components for the handlers.
type Gateway struct {
	reg      *registry.Registry
	presence *presence.Tracker
	room     *room.Broadcaster
	dm       *dm.Router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger := log.With().Str("service", "gateway").Logger()
	log.Logger = logger

	cfg := config.LoadGateway()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	events := store.NewKafkaStore(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer events.Close()

	ids, err := snowflake.NewNode(cfg.SnowflakeID)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid snowflake node id")
	}

	gw := &Gateway{}
	// A send failure during broadcast evicts the connection as if it had
	// disconnected; teardown runs the same sequence either way.
	gw.reg = registry.New(logger, func(h *registry.Handle) {
		if c, ok := h.Sender().(*Client); ok {
			c.teardown()
		}
	})
	gw.presence = presence.NewTracker(cfg.GraceWindow, presence.RealClock(), presence.NewRedisStore(rdb), logger)
	gw.room = room.NewBroadcaster(gw.reg, ids, events, room.NewRedisRoster(rdb), logger)
	gw.dm = dm.NewRouter(gw.reg, directory.NewScyllaDirectory(session), ids, events, logger)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(gw, w, r)
	})
	http.HandleFunc("/presence", func(w http.ResponseWriter, r *http.Request) {
		servePresence(gw, w, r)
	})

	logger.Info().Str("addr", cfg.Addr).Msg("gateway starting")
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		logger.Fatal().Err(err).Msg("gateway stopped")
	}
}
