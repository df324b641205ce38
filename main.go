package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/robfig/cron/v3"

	"mentorbot/ai"
	"mentorbot/chat"
	"mentorbot/config"
	"mentorbot/handlers"
	"mentorbot/middleware"
	"mentorbot/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	chatClient := chat.NewClient(cfg.MattermostURL, cfg.MattermostToken, chat.NewUserCache(), logger)

	llm := ai.NewLLMClient(cfg.OpenAIKey, "")
	image := ai.NewImageClient(cfg.OpenAIKey)
	voices := map[string]ai.VoiceProvider{
		"dialogue": ai.NewDialogueProvider(cfg.DialogueTTSURL, logger),
		"narrator": ai.NewNarratorProvider(cfg.NarratorTTSURL, 0, logger),
	}

	// Initialize handlers
	reminderHandler := handlers.NewReminderHandler(s, chatClient, cfg, logger)
	stopHandler := handlers.NewStopHandler(s, chatClient, cfg, logger)
	evaluateHandler := handlers.NewEvaluateHandler(s, chatClient, cfg, logger)
	audioHandler := handlers.NewAudioHandler(cfg, logger)
	summaryHandler := handlers.NewSummaryHandler(chatClient, llm, image, voices, audioHandler, cfg, logger)
	authHandler := handlers.NewAuthHandler(cfg, logger)
	opsHandler := handlers.NewOpsHandler(s, logger)

	// Create router
	mux := http.NewServeMux()

	// Slash commands (verified by their own command tokens)
	mux.HandleFunc("POST /commands/task", reminderHandler.CreateTask)
	mux.HandleFunc("POST /commands/remind", reminderHandler.CreateRemind)
	mux.HandleFunc("POST /commands/stop", stopHandler.Stop)

	// Cron entry points (verified by the service secret)
	mux.Handle("POST /cron/evaluate", evaluateHandler)
	mux.Handle("GET /cron/summary", summaryHandler)

	// Ops API
	mux.HandleFunc("POST /api/auth/token", authHandler.Token)
	mux.HandleFunc("GET /api/reminders", withAuth(opsHandler.ListReminders))
	mux.HandleFunc("GET /api/audio/{filename}", audioHandler.Serve)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	if cfg.EnableCron {
		startCron(cfg, evaluateHandler, summaryHandler, logger)
	}

	handler := corsMiddleware(mux)

	logger.Info("mentorbot starting", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// startCron runs the evaluation and summary jobs on their configured
// schedules in-process. External cron hitting /cron/* still works when this
// is disabled.
func startCron(cfg config.Config, evaluate *handlers.EvaluateHandler, summary *handlers.SummaryHandler, logger *slog.Logger) {
	c := cron.New(cron.WithLocation(cfg.Location()))

	if _, err := c.AddFunc(cfg.EvaluateSchedule, func() {
		if _, err := evaluate.Run(context.Background()); err != nil {
			logger.Error("scheduled evaluation failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid evaluate schedule", "schedule", cfg.EvaluateSchedule, "error", err)
		os.Exit(1)
	}

	if _, err := c.AddFunc(cfg.SummarySchedule, func() {
		opts := handlers.SummaryOptions{Kind: "text"}
		if _, err := summary.Run(context.Background(), opts); err != nil {
			logger.Error("scheduled summary failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid summary schedule", "schedule", cfg.SummarySchedule, "error", err)
		os.Exit(1)
	}

	c.Start()
	logger.Info("cron started", "evaluate", cfg.EvaluateSchedule, "summary", cfg.SummarySchedule)
}

// withAuth wraps a handler with JWT authentication
func withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := middleware.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := middleware.SetSubject(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
