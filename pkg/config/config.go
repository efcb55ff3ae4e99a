// Package config loads service configuration from the environment, with a
// .env file picked up automatically when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load()
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envList(key, def string) []string {
	return strings.Split(envStr(key, def), ",")
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Gateway configures the realtime gateway service.
type Gateway struct {
	Addr         string
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	ScyllaHosts  []string
	Keyspace     string
	SnowflakeID  int64
	GraceWindow  time.Duration
}

func LoadGateway() Gateway {
	return Gateway{
		Addr:         envStr("GATEWAY_ADDR", ":8080"),
		KafkaBrokers: envList("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:   envStr("KAFKA_TOPIC", "realtime-events"),
		RedisAddr:    envStr("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:  envList("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:     envStr("SCYLLA_KEYSPACE", "realtime"),
		SnowflakeID:  int64(envInt("SNOWFLAKE_NODE", 1)),
		GraceWindow:  envDuration("PRESENCE_GRACE_WINDOW", 10*time.Second),
	}
}

// API configures the request/response service.
type API struct {
	Addr        string
	RedisAddr   string
	ScyllaHosts []string
	Keyspace    string
	HistorySize int
}

func LoadAPI() API {
	return API{
		Addr:        envStr("API_ADDR", ":8081"),
		RedisAddr:   envStr("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts: envList("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:    envStr("SCYLLA_KEYSPACE", "realtime"),
		HistorySize: envInt("HISTORY_SIZE", 50),
	}
}

// Messaging configures the persistence consumer.
type Messaging struct {
	KafkaBrokers []string
	KafkaTopic   string
	GroupID      string
	ScyllaHosts  []string
	Keyspace     string
}

func LoadMessaging() Messaging {
	return Messaging{
		KafkaBrokers: envList("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:   envStr("KAFKA_TOPIC", "realtime-events"),
		GroupID:      envStr("KAFKA_GROUP_ID", "messaging-service-group"),
		ScyllaHosts:  envList("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:     envStr("SCYLLA_KEYSPACE", "realtime"),
	}
}
