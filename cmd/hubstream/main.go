// Command hubstream is a terminal monitor for a multi-agent page-generation
// backend. It bootstraps a conversation, attaches the reconciliation engine
// to the event stream, and mirrors the transcript to stdout. Stdin lines are
// sent as chat; /select and /reconnect are control commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/hubstream/internal/auth"
	"github.com/gosuda/hubstream/internal/bootstrap"
	"github.com/gosuda/hubstream/internal/config"
	"github.com/gosuda/hubstream/internal/dedup"
	"github.com/gosuda/hubstream/internal/engine"
	"github.com/gosuda/hubstream/internal/notify"
	"github.com/gosuda/hubstream/internal/store/postgres"
	"github.com/gosuda/hubstream/internal/transport"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("HUBSTREAM_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("HUBSTREAM_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// No token is valid against the local simulator; the real backend will
	// reject the dial and the failure surfaces as session-expired.
	var tokens auth.TokenSource
	if cfg.Backend.BearerToken != "" {
		src, srcErr := auth.NewStaticSource(cfg.Backend.BearerToken)
		if srcErr != nil {
			return srcErr
		}
		tokens = src
	}

	// The first CLI argument seeds the conversation; default to a greeting.
	initial := "Hello"
	if len(os.Args) > 1 {
		initial = strings.Join(os.Args[1:], " ")
	}

	conv, err := bootstrap.New(cfg.Backend.BootstrapURL, tokens).CreateConversation(ctx, initial, cfg.Backend.Domain)
	if err != nil {
		return err
	}
	log.Info().Str("conversation_id", conv.ID).Msg("conversation created")

	// Seen-frame horizon: shared via Redis when configured, in-memory otherwise.
	var store dedup.Store
	if cfg.Redis.Addr != "" {
		redisStore, redisErr := dedup.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			"hubstream:"+conv.ID, cfg.Dedup.Threshold, cfg.Dedup.ClearInterval)
		if redisErr != nil {
			return redisErr
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		store = dedup.NewMemory(cfg.Dedup.Threshold)
	}

	// Transcript archive when a database is configured.
	var archive engine.Archiver
	if cfg.Database.DSN != "" {
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		pg, pgErr := postgres.New(ctx, cfg.Database.DSN, int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if pgErr != nil {
			return pgErr
		}
		defer pg.Close()
		archive = pg
	}

	notifiers := notify.NewRegistry()
	notifiers.Register(notify.Log{})
	if cfg.Slack.BotToken != "" {
		notifiers.Register(notify.NewSlack(cfg.Slack.BotToken, cfg.Slack.Channel))
	}

	client := transport.New(transport.Options{
		URL:            cfg.Backend.WebsocketURL,
		Tokens:         tokens,
		BaseDelay:      cfg.Transport.BaseDelay,
		MaxDelay:       cfg.Transport.MaxDelay,
		MaxAttempts:    cfg.Transport.MaxAttempts,
		HealthInterval: cfg.Transport.HealthInterval,
		SilenceLimit:   cfg.Transport.SilenceLimit,
		SendRate:       cfg.Transport.SendLimit(),
		SendBurst:      cfg.Transport.SendBurst,
	})

	eng := engine.New(engine.Config{
		ConversationID:     conv.ID,
		Domain:             cfg.Backend.Domain,
		Transport:          client,
		Dedup:              store,
		Notifiers:          notifiers,
		Archive:            archive,
		DedupClearInterval: cfg.Dedup.ClearInterval,
	})
	defer eng.Close()

	// Mirror the transcript to stdout as it grows.
	eng.Transcript().OnAppend(printMessage)
	eng.Streams().OnPreview(func(streamID, partial string) {
		log.Debug().Str("stream_id", streamID).Int("bytes", len(partial)).Msg("stream preview")
	})

	if err := eng.Start(); err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go eng.Run(ctx)

	// Stdin drives the conversation until EOF or a signal.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				log.Info().Msg("stdin closed")
				return nil
			}
			if err := handleLine(ctx, eng, line); err != nil {
				log.Error().Err(err).Msg("send failed")
			}
		}
	}
}

// handleLine interprets one stdin line: control commands start with a slash,
// everything else is chat.
func handleLine(ctx context.Context, eng *engine.Engine, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch {
	case line == "/reconnect":
		eng.Reconnect()
		return nil
	case strings.HasPrefix(line, "/select "):
		return eng.SendSelection(sendCtx, strings.TrimSpace(strings.TrimPrefix(line, "/select ")))
	case line == "/docs":
		for _, doc := range eng.Documents() {
			fmt.Printf("[doc] %s (%d bytes)\n", doc.Title, len(doc.Content))
		}
		return nil
	default:
		return eng.SendMessage(sendCtx, line)
	}
}

func printMessage(msg engine.Message) {
	switch msg.Kind {
	case engine.MessageUser:
		fmt.Printf("you> %s\n", msg.Text)
	case engine.MessageSystem:
		fmt.Printf("[system] %s\n", msg.Text)
	case engine.MessageAgentText:
		fmt.Printf("agent> %s\n", msg.Text)
	case engine.MessagePagesGrid:
		fmt.Printf("[pages] %d candidates:\n", len(msg.Candidates))
		for _, c := range msg.Candidates {
			fmt.Printf("  - %s: %s\n", c.HubPageID, c.PageTitle)
		}
	case engine.MessagePanelMarker:
		fmt.Println("[agents working...]")
	}
}
