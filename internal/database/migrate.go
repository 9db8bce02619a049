package database

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

// SubscriberRecord is one chat's buybot subscription record for one bot.
// Config is the JSON-serialized subscriptions.Subscriber.
type SubscriberRecord struct {
	ID     uint   `gorm:"primaryKey"`
	BotID  int64  `gorm:"uniqueIndex:idx_subscribers_bot_chat;not null"`
	ChatID int64  `gorm:"uniqueIndex:idx_subscribers_bot_chat;not null"`
	Config []byte `gorm:"type:jsonb;not null"`
}

func (SubscriberRecord) TableName() string { return "subscribers" }

// TextLogRecord is one chat's text-log filter list for one bot.
type TextLogRecord struct {
	ID      uint   `gorm:"primaryKey"`
	BotID   int64  `gorm:"uniqueIndex:idx_textlogs_bot_chat;not null"`
	ChatID  int64  `gorm:"uniqueIndex:idx_textlogs_bot_chat;not null"`
	Enabled bool   `gorm:"not null;default:true"`
	Filters []byte `gorm:"type:jsonb;not null"`
}

func (TextLogRecord) TableName() string { return "textlog_subscribers" }

// MigrateDatabase handles database migrations using GORM's AutoMigrate and raw SQL as a fallback
func MigrateDatabase(db *gorm.DB, dsn string) {
	env := os.Getenv("APP_ENV")
	log.Printf("Running migrations for environment: %s", env)

	log.Println("Running GORM migrations...")
	if err := db.AutoMigrate(&SubscriberRecord{}, &TextLogRecord{}); err != nil {
		log.Fatalf("Failed to perform GORM migrations: %v", err)
	}
	log.Println("GORM migrations executed successfully.")

	dbSQL, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to the database with SQL: %v", err)
	}
	defer dbSQL.Close()

	executeSQLMigrations(dbSQL)
}

// executeSQLMigrations performs raw SQL migrations as a fallback
func executeSQLMigrations(db *sql.DB) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
            id SERIAL PRIMARY KEY,
            bot_id BIGINT NOT NULL,
            chat_id BIGINT NOT NULL,
            config JSONB NOT NULL,
            UNIQUE (bot_id, chat_id)
        );`,
		`CREATE TABLE IF NOT EXISTS textlog_subscribers (
            id SERIAL PRIMARY KEY,
            bot_id BIGINT NOT NULL,
            chat_id BIGINT NOT NULL,
            enabled BOOLEAN NOT NULL DEFAULT TRUE,
            filters JSONB NOT NULL,
            UNIQUE (bot_id, chat_id)
        );`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			log.Fatalf("Failed to execute query: %s, error: %v", query, err)
		}
	}
	log.Println("Raw SQL migrations executed successfully.")
}
