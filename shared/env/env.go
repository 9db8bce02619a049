package env

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	RedisURL      string
	EventStreamWS string
	StatusPingURL string

	Port string

	TrendingChatID int64
	DumpersChatID  int64

	NotificationsPerMinute int

	PGHOST     string
	PGPORT     string
	PGUSER     string
	PGPASSWORD string
	PGDATABASE string

	DATABASE_URL string

	EventInjectSecret string
)

func loadEnvVariable(key string, isRequired bool) string {
	value := os.Getenv(key)
	if isRequired && value == "" {
		log.Fatalf("FATAL: Environment variable %s is required but not set.", key)
	}
	isHidden := key == "DATABASE_URL" || key == "PGPASSWORD" || key == "EVENT_INJECT_SECRET" || key == "REDIS_URL"
	if value == "" {
		if !isRequired {
			log.Printf("INFO: Environment variable %s is not set.", key)
		}
	} else if isHidden {
		log.Printf("INFO: Loaded %s (value hidden)", key)
	} else {
		log.Printf("INFO: Loaded %s = %s", key, value)
	}
	return value
}

func loadInt64Env(key string, required bool) int64 {
	strValue := loadEnvVariable(key, required)
	if strValue == "" {
		if !required {
			return 0
		}
		log.Fatalf("FATAL: Required int64 environment variable %s is missing after load.", key)
		return 0
	}
	id, err := strconv.ParseInt(strValue, 10, 64)
	if err != nil {
		log.Fatalf("FATAL: Failed to parse int64 environment variable %s='%s': %v", key, strValue, err)
	}
	return id
}

func LoadEnv() error {
	err := godotenv.Load()
	if err != nil {
		log.Println("INFO: .env file not found or error loading, relying on system environment variables.")
	} else {
		log.Println("INFO: .env file loaded successfully.")
	}

	RedisURL = loadEnvVariable("REDIS_URL", false)
	EventStreamWS = loadEnvVariable("EVENT_STREAM_WS_URL", false)
	if RedisURL == "" && EventStreamWS == "" {
		log.Println("WARN: Neither REDIS_URL nor EVENT_STREAM_WS_URL is set. No indexer events will be received.")
	}
	StatusPingURL = loadEnvVariable("STATUS_PING_URL", false)

	Port = loadEnvVariable("PORT", false)
	if Port == "" {
		Port = "8080"
		log.Printf("INFO: PORT not set, defaulting to %s", Port)
	}

	TrendingChatID = loadInt64Env("TRENDING_CHAT_ID", false)
	DumpersChatID = loadInt64Env("DUMPERS_CHAT_ID", false)

	NotificationsPerMinute = int(loadInt64Env("NOTIFICATIONS_PER_MINUTE", false))
	if NotificationsPerMinute <= 0 {
		NotificationsPerMinute = 20
		log.Printf("INFO: NOTIFICATIONS_PER_MINUTE not set, defaulting to %d", NotificationsPerMinute)
	}

	DATABASE_URL = loadEnvVariable("DATABASE_URL", false)

	PGHOST = loadEnvVariable("PGHOST", false)
	PGPORT = loadEnvVariable("PGPORT", false)
	PGUSER = loadEnvVariable("PGUSER", false)
	PGPASSWORD = loadEnvVariable("PGPASSWORD", false)
	PGDATABASE = loadEnvVariable("PGDATABASE", false)

	if DATABASE_URL == "" {
		log.Println("WARN: DATABASE_URL is not set. Connection logic will rely on PG* variables.")
	}

	EventInjectSecret = loadEnvVariable("EVENT_INJECT_SECRET", false)
	if EventInjectSecret == "" {
		log.Println("WARN: EVENT_INJECT_SECRET is not set. The event injection endpoint will be unsecured.")
	}

	log.Println("INFO: Environment variables loading process complete.")
	return nil
}
