package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"convo-llm/internal/config"
	"convo-llm/internal/db"
	"convo-llm/internal/domain"
	"convo-llm/internal/email"
	"convo-llm/internal/gateway"
	"convo-llm/internal/repository"
	"convo-llm/internal/service"
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	sessionRepo := repository.NewPgSessionRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)
	gw := gateway.NewHTTPGateway(cfg.AssistantBaseURL, cfg.AssistantAPIKey, logger)

	lifecycle := service.NewLifecycleManager(gw, sessionRepo, messageRepo, nil, nil, logger)
	exporter := service.NewFileExporter(cfg.ExportDir, email.NewDisabledSender(""), "", logger)

	machine := service.NewMachine(lifecycle, messageRepo, gw, nil, nil, exporter, logger, cfg.DefaultLanguage)
	machine.SetListener(render)

	go func() {
		for sig := range machine.Signals() {
			switch s := sig.(type) {
			case domain.ExportSuccess:
				fmt.Printf("\n[exported to %s]\n> ", s.Path)
			case domain.OfflineQueueProcessed:
				fmt.Printf("\n[offline queue: %d sent]\n> ", s.Count)
			}
		}
	}()

	if machine.LoadLastSession(ctx) {
		fmt.Println("Resuming last session...")
	} else {
		fmt.Println("No previous session. Type a message to start a new one.")
	}

	fmt.Println("Commands: /sessions /switch <id> /new [title] /search <q> /export /queue /clear /quit")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/sessions":
			sessions, err := gw.ListSessions(ctx, 20)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s  (%d messages)\n", s.ID, s.Title, s.MessageCount)
			}
		case strings.HasPrefix(line, "/switch "):
			machine.LoadSession(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/switch ")))
		case line == "/new" || strings.HasPrefix(line, "/new "):
			title := strings.TrimSpace(strings.TrimPrefix(line, "/new"))
			session, err := lifecycle.CreateExplicitly(ctx, title)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			machine.LoadSession(ctx, session.ID)
		case strings.HasPrefix(line, "/search "):
			if err := machine.SearchMessages(ctx, strings.TrimPrefix(line, "/search ")); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case line == "/export":
			if err := machine.ExportHistory(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case line == "/queue":
			if _, err := machine.ProcessOfflineQueue(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case line == "/clear":
			if err := machine.ClearChat(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		default:
			if _, err := machine.SendMessage(ctx, line); err != nil {
				fmt.Printf("rejected: %v\n", err)
			}
		}
		// Deja respirar a los completions asincronicos antes del prompt.
		time.Sleep(150 * time.Millisecond)
	}
}

func render(state domain.ConversationState) {
	switch st := state.(type) {
	case domain.Uninitialized:
		fmt.Println("[uninitialized]")
	case domain.Loading:
		fmt.Printf("[loading %s...]\n", st.SessionID)
	case domain.Ready:
		if len(st.SearchResults) > 0 {
			fmt.Printf("[search: %d results]\n", len(st.SearchResults))
			for _, msg := range st.SearchResults {
				fmt.Printf("  %s: %s\n", msg.Sender, msg.Text)
			}
			return
		}
		if n := len(st.Messages); n > 0 {
			last := st.Messages[n-1]
			marker := ""
			if last.Status == domain.StatusPending {
				marker = " (sending...)"
			} else if last.Status == domain.StatusFailed {
				marker = " (failed)"
			}
			fmt.Printf("%s: %s%s\n", last.Sender, last.Text, marker)
		}
		if st.IsTyping {
			fmt.Println("[assistant is typing...]")
		}
	case domain.Recording:
		fmt.Printf("[recording %.1fs]\n", st.Elapsed.Seconds())
	case domain.Failed:
		fmt.Printf("[error: %s retryable=%v]\n", st.Message, st.Retryable)
	}
}
