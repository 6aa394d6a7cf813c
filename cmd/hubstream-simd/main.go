// Command hubstream-simd is a local backend simulator for development. It
// serves the bootstrap endpoint and a websocket that replays a scripted
// agent lifecycle for every user message: tool calls, a hub-entry result,
// a handoff, a streamed HTML document, and a closing chat message. One frame
// is sent twice on purpose so clients can verify their replay handling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	level, err := zerolog.ParseLevel(os.Getenv("HUBSTREAM_LOG_LEVEL"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	addr := os.Getenv("HUBSTREAM_SIMD_ADDR")
	if addr == "" {
		addr = ":8091"
	}

	router := chi.NewRouter()
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}).Handler)

	router.Post("/api/conversations", createConversation)
	router.Get("/ws", serveStream)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().Str("addr", addr).Msg("simulator listening")
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error().Err(serveErr).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Domain  string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	id := "conv-" + uuid.NewString()
	log.Info().Str("conversation_id", id).Str("domain", req.Domain).Msg("conversation created")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"conversation_id": id,
		"domain":          req.Domain,
	})
}

func serveStream(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "missing conversation_id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log.Info().Str("conversation_id", conversationID).Msg("stream attached")

	for {
		_, frame, readErr := conn.Read(ctx)
		if readErr != nil {
			log.Debug().Err(readErr).Msg("websocket read")
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		}

		var env struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if jsonErr := json.Unmarshal(frame, &env); jsonErr != nil {
			log.Warn().Err(jsonErr).Msg("unparseable inbound frame")
			continue
		}
		if env.Type != "user_message" {
			log.Info().Str("type", env.Type).Str("content", env.Content).Msg("control message received")
			continue
		}

		if scriptErr := replayLifecycle(ctx, conn, env.Content); scriptErr != nil {
			log.Debug().Err(scriptErr).Msg("script aborted")
			return
		}
	}
}

// replayLifecycle emits the scripted agent run triggered by one user message.
func replayLifecycle(ctx context.Context, conn *websocket.Conn, userText string) error {
	runID := uuid.NewString()
	now := func() string { return time.Now().UTC().Format(time.RFC3339Nano) }

	resultID := "hub-" + uuid.NewString()[:8]
	toolResult := frame{
		"event":      "tool_result",
		"agent_name": "keyword_research_agent",
		"tool_name":  "generate_hub_page_keywords",
		"message_id": uuid.NewString(),
		"timestamp":  now(),
		"metadata":   frame{"run_id": runID},
		"output": frame{
			"hub_entries": []frame{
				{
					"hub_page_id":       resultID,
					"page_title":        "Ultimate Guide: " + userText,
					"description":       "A generated hub page proposal.",
					"related_keywords":  []string{"guide", "howto"},
					"traffic_potential": 1200,
					"difficulty":        "medium",
				},
			},
		},
	}

	script := []frame{
		{
			"event":      "chat_start",
			"agent_name": "triage_agent",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
		},
		{
			"event":      "tool_call",
			"agent_name": "keyword_research_agent",
			"tool_name":  "generate_hub_page_keywords",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"metadata":   frame{"run_id": runID},
		},
		toolResult,
		toolResult, // duplicate on purpose; clients must drop the replay
		{
			"event":      "handoff_start",
			"agent_name": "keyword_research_agent",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"metadata":   frame{"run_id": runID},
		},
		{
			"type":       "message_start",
			"agent_name": "page_builder_agent",
			"tool_name":  "write_html_codes_tool",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"metadata":   frame{"run_id": runID},
		},
		{
			"type":       "message_chunk",
			"agent_name": "page_builder_agent",
			"tool_name":  "write_html_codes_tool",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"metadata":   frame{"run_id": runID},
			"result":     "<html><body><h1>" + userText + "</h1>",
		},
		{
			"type":       "message_chunk",
			"agent_name": "page_builder_agent",
			"tool_name":  "write_html_codes_tool",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"metadata":   frame{"run_id": runID},
			"result":     "</body></html>",
		},
		{
			"type":       "message_end",
			"agent_name": "page_builder_agent",
			"tool_name":  "write_html_codes_tool",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"metadata":   frame{"run_id": runID},
		},
		{
			"event":      "handoff_end",
			"agent_name": "page_builder_agent",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"metadata":   frame{"run_id": runID},
		},
		{
			"event":      "chat_end",
			"agent_name": "triage_agent",
			"message_id": uuid.NewString(),
			"timestamp":  now(),
			"result":     fmt.Sprintf("I prepared a hub page proposal for %q. Pick a candidate to continue.", userText),
		},
	}

	for _, f := range script {
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal frame: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		time.Sleep(150 * time.Millisecond)
	}

	return nil
}

type frame = map[string]any
