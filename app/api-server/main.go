package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/dostum-ai/dostum-backend/config"
	"github.com/dostum-ai/dostum-backend/internal/api/handlers"
	"github.com/dostum-ai/dostum-backend/internal/api/middleware"
	"github.com/dostum-ai/dostum-backend/internal/api/routes"
	"github.com/dostum-ai/dostum-backend/internal/cache"
	"github.com/dostum-ai/dostum-backend/internal/logger"
	"github.com/dostum-ai/dostum-backend/internal/providers/llm"
	"github.com/dostum-ai/dostum-backend/internal/providers/stt"
	"github.com/dostum-ai/dostum-backend/internal/providers/tts"
	"github.com/dostum-ai/dostum-backend/internal/realtime"
	mongorepo "github.com/dostum-ai/dostum-backend/internal/repositories/mongo"
	pgrepo "github.com/dostum-ai/dostum-backend/internal/repositories/postgres"
	"github.com/dostum-ai/dostum-backend/internal/services"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	log.Info("PostgreSQL connected")

	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("MongoDB init error")
	}
	log.Info("MongoDB connected")

	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Fatal("MongoDB index error")
	}

	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("Redis init error")
	}
	log.Info("Redis connected")

	ctx := context.Background()

	sttProvider, llmProvider, synth, err := buildProviders(ctx)
	if err != nil {
		log.WithError(err).Fatal("provider init error")
	}
	defer sttProvider.Close()
	defer llmProvider.Close()
	defer synth.Close()

	mongoDB := config.MongoDatabase()

	userSvc := services.NewUserService(pgrepo.NewUserRepo(config.PostgresDB), cache.NewRedisCache(config.RedisClient))
	convoSvc := services.NewConversationService(pgrepo.NewConversationRepo(config.PostgresDB))
	bufferSvc := services.NewBufferService(mongorepo.NewBufferRepo(mongoDB), 24*time.Hour)
	sessionSvc := services.NewSessionService(mongorepo.NewSessionRepo(mongoDB))

	rtCfg := realtime.DefaultConfig()
	registry := realtime.NewRegistry()
	mirror := realtime.NewEventMirror(config.RedisClient, logger.Component(log, "mirror"), rtCfg.PresenceTTL)

	gateway := realtime.NewGateway(realtime.GatewayDeps{
		Config:    rtCfg,
		Log:       log,
		Registry:  registry,
		STT:       sttProvider,
		LLM:       llmProvider,
		TTS:       synth,
		Users:     userSvc,
		Convos:    convoSvc,
		Buffers:   bufferSvc,
		Sessions:  sessionSvc,
		Mirror:    mirror,
		JWTSecret: []byte(os.Getenv("JWT_SECRET")),
	})

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		User:         handlers.NewUserHandler(userSvc),
		Conversation: handlers.NewConversationHandler(convoSvc, bufferSvc),
		Voice:        handlers.NewVoiceHandler(gateway, registry, sessionSvc),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.WithField("port", port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}

// buildProviders wires the speech, language-model, and synthesis backends.
// PROVIDERS=mock swaps all three for in-process fakes, for local
// development without cloud credentials.
func buildProviders(ctx context.Context) (stt.Provider, llm.Provider, tts.Synthesizer, error) {
	if os.Getenv("PROVIDERS") == "mock" {
		return &stt.MockProvider{}, &llm.Mock{Chunks: []string{"Merhaba! ", "Bugün nasılsın?"}}, tts.NewMock(), nil
	}

	sttProvider, err := stt.NewGoogleSpeech(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	llmProvider, err := llm.NewVertexGemini(ctx,
		os.Getenv("VERTEX_PROJECT_ID"),
		os.Getenv("VERTEX_LOCATION"),
		os.Getenv("VERTEX_MODEL"),
	)
	if err != nil {
		sttProvider.Close()
		return nil, nil, nil, err
	}

	synth, err := tts.NewOpenAISpeech(tts.OpenAISpeechConfig{
		APIKey:  os.Getenv("TTS_API_KEY"),
		BaseURL: os.Getenv("TTS_BASE_URL"),
		Model:   os.Getenv("TTS_MODEL"),
	})
	if err != nil {
		sttProvider.Close()
		llmProvider.Close()
		return nil, nil, nil, err
	}

	return sttProvider, llmProvider, synth, nil
}
