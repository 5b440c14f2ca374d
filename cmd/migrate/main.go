package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"classlink/config"
	"classlink/internal/domain/conversation"
	"classlink/internal/domain/message"
	"classlink/internal/domain/notification"
	"classlink/internal/domain/user"
	"classlink/pkg/database"
)

const usage = `
ClassLink Messaging - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Run GORM migrations for all tables
  seed        Populate the database with development sample data
  status      Show database connection status

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed
  go run cmd/migrate/main.go status
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	database.Connect(cfg)

	switch flag.Arg(0) {
	case "up":
		if err := migrateUp(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Println("migrations applied")
	case "seed":
		if err := migrateUp(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		if _, err := database.Seed(database.DefaultSeedConfig()); err != nil {
			log.Fatalf("seeding failed: %v", err)
		}
	case "status":
		if err := database.HealthCheck(); err != nil {
			log.Fatalf("database unreachable: %v", err)
		}
		log.Println("database reachable")
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func migrateUp() error {
	return database.DB.AutoMigrate(
		&user.User{},
		&conversation.Conversation{},
		&conversation.Participant{},
		&message.Message{},
		&notification.Notification{},
		&notification.TopicSubscription{},
	)
}
