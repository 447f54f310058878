package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"time"

	"github.com/joho/godotenv"
)

const usage = `Usage: admin <command> [args]

  agent-add <id> <display_name> [languages] [max_sessions] [telegram_chat_id]
  agent-disable <id>
  agents
  transcript <user_id | user:<id> | conn:<id>>
  token <subject> <agent|visitor> [ttl]`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	ctx := context.Background()

	// token only needs the secret, not the database.
	if command == "token" {
		secret := os.Getenv("SUPPORT_JWT_SECRET")
		if secret == "" {
			log.Fatal("SUPPORT_JWT_SECRET must be set")
		}
		out, err := issueToken(auth.NewVerifier(secret), args)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(out)
		return
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			os.Getenv("DB_HOST"),
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_NAME"),
			os.Getenv("DB_PORT"),
		)
	}
	db, err := storage.Connect(dsn, false, 1)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}
	s := storage.NewStorageService(db)

	switch command {
	case "agent-add":
		if len(args) < 2 {
			fmt.Println("Usage: admin agent-add <id> <display_name> [languages] [max_sessions] [telegram_chat_id]")
			os.Exit(1)
		}
		a, err := parseAgent(args)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if err := s.SaveAgent(ctx, a); err != nil {
			log.Fatalf("Error saving agent: %v", err)
		}
		fmt.Printf("Agent %s saved.\n", a.ID)
	case "agent-disable":
		if len(args) != 1 {
			fmt.Println("Usage: admin agent-disable <id>")
			os.Exit(1)
		}
		if err := disableAgent(ctx, s, args[0]); err != nil {
			log.Fatalf("Error disabling agent: %v", err)
		}
		fmt.Printf("Agent %s has been disabled.\n", args[0])
	case "agents":
		if err := listAgents(ctx, s, os.Stdout); err != nil {
			log.Fatalf("Error listing agents: %v", err)
		}
	case "transcript":
		if len(args) != 1 {
			fmt.Println("Usage: admin transcript <user_id | user:<id> | conn:<id>>")
			os.Exit(1)
		}
		if err := printTranscript(ctx, s, args[0], os.Stdout); err != nil {
			log.Fatalf("Error reading transcript: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func issueToken(v *auth.Verifier, args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: admin token <subject> <agent|visitor> [ttl]")
	}
	ttl := config.DevTokenTTL
	if len(args) > 2 {
		d, err := time.ParseDuration(args[2])
		if err != nil {
			return "", fmt.Errorf("invalid ttl %q: %w", args[2], err)
		}
		ttl = d
	}
	role := models.Role(args[1])
	if role != models.RoleAgent && role != models.RoleVisitor {
		return "", fmt.Errorf("unknown role %q", args[1])
	}
	return v.Issue(args[0], role, ttl)
}

// parseAgent builds an agent from agent-add arguments.
func parseAgent(args []string) (*models.Agent, error) {
	a := &models.Agent{ID: args[0], DisplayName: args[1], Active: true}
	if len(args) > 2 && args[2] != "" {
		a.Languages = splitLanguages(args[2])
	}
	if len(args) > 3 {
		n, err := strconv.Atoi(args[3])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid max_sessions %q", args[3])
		}
		a.MaxSessions = n
	}
	if len(args) > 4 {
		chatID, err := strconv.ParseInt(args[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram_chat_id %q", args[4])
		}
		a.TelegramChatID = &chatID
	}
	return a, nil
}
