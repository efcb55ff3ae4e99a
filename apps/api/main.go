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
	"github.com/inkwell-app/realtime/pkg/presence"
	"github.com/inkwell-app/realtime/pkg/room"
)

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", "api").Logger()

	cfg := config.LoadAPI()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	dir := directory.NewScyllaDirectory(session)
	roster := room.NewRedisRoster(rdb)
	presenceStore := presence.NewRedisStore(rdb)

	http.Handle("/login", corsMiddleware(http.HandlerFunc(LoginHandler(session))))
	http.Handle("/history", corsMiddleware(AuthMiddleware(HistoryHandler(session, roster, cfg.HistorySize))))
	http.Handle("/history/dm", corsMiddleware(AuthMiddleware(DMHistoryHandler(session, dir, cfg.HistorySize))))
	http.Handle("/presence/bulk", corsMiddleware(AuthMiddleware(BulkPresenceHandler(presenceStore))))

	log.Info().Str("addr", cfg.Addr).Msg("api starting")
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}
