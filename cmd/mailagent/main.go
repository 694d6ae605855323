package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	appcli "github.com/lLiuRunze/mail-agent/internal/cli"
	"github.com/lLiuRunze/mail-agent/internal/config"
	"github.com/lLiuRunze/mail-agent/pkg/address"
	"github.com/lLiuRunze/mail-agent/pkg/ai"
	"github.com/lLiuRunze/mail-agent/pkg/folders"
	"github.com/lLiuRunze/mail-agent/pkg/messagestore"
	"github.com/lLiuRunze/mail-agent/pkg/models/draft"
	"github.com/lLiuRunze/mail-agent/pkg/mutations"
	"github.com/lLiuRunze/mail-agent/pkg/session"
	"github.com/lLiuRunze/mail-agent/pkg/tasks"
)

func main() {
	// A .env file is a convenience for local runs, not a requirement.
	_ = godotenv.Load(".env")

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	account, err := config.AccountFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	roles := config.DefaultFolderRoles()
	if path := os.Getenv("MAILAGENT_FOLDERS_FILE"); path != "" {
		if roles, err = config.LoadFolderRoles(path); err != nil {
			log.Fatalf("loading folder roles: %v", err)
		}
	}

	sessions, err := session.NewManager(
		session.WithAccount(account),
		session.WithLogger(logger),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer sessions.Disconnect()

	folderResolver, err := folders.NewResolver(
		folders.WithRoles(roles),
		folders.WithLogger(logger),
	)
	if err != nil {
		log.Fatal(err)
	}

	store, err := messagestore.NewStore(
		messagestore.WithSessionManager(sessions),
		messagestore.WithFolderResolver(folderResolver),
		messagestore.WithLogger(logger),
	)
	if err != nil {
		log.Fatal(err)
	}

	addrResolver, err := address.NewResolver(
		address.WithStore(store),
		address.WithLogger(logger),
	)
	if err != nil {
		log.Fatal(err)
	}

	ops, err := mutations.NewOperator(
		mutations.WithAccount(account),
		mutations.WithSessionManager(sessions),
		mutations.WithStore(store),
		mutations.WithFolderResolver(folderResolver),
		mutations.WithLogger(logger),
	)
	if err != nil {
		log.Fatal(err)
	}

	drafts, err := draft.NewCache(draft.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}

	opts := []tasks.DispatcherOption{
		tasks.WithStore(store),
		tasks.WithAddressResolver(addrResolver),
		tasks.WithOperator(ops),
		tasks.WithDraftCache(drafts),
		tasks.WithLogger(logger),
	}

	// The assistant is optional; without a key the AI-backed intents report
	// themselves unavailable instead of failing startup.
	if aiCfg, err := config.AIFromEnv(); err == nil {
		assistant, err := ai.NewClient(
			ai.WithConfig(aiCfg),
			ai.WithLogger(logger),
		)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, tasks.WithAssistant(assistant))
	} else {
		logger.Info("assistant disabled", slog.String("reason", err.Error()))
	}

	dispatcher, err := tasks.NewDispatcher(opts...)
	if err != nil {
		log.Fatal(err)
	}

	app := appcli.NewApp(dispatcher, logger, os.Stdout)
	if err := appcli.Run(context.Background(), app, os.Args); err != nil {
		log.Fatal(err)
	}
}
