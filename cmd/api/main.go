package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"nutrichef/internal/api"
	"nutrichef/internal/config"
	"nutrichef/internal/gateway"
	"nutrichef/internal/platform/gemini"
	"nutrichef/internal/platform/localllm"
	"nutrichef/internal/question"
	"nutrichef/internal/recipe"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

	gw, err := newGateway(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create model gateway")
	}

	policy := recipe.DefaultPolicy()
	policy.CallTimeout = cfg.GatewayTimeout

	pipeline := recipe.NewPipeline(gw, policy, logger)
	questions := question.NewService(gw, logger)
	handler := api.NewHandler(pipeline, questions, cfg.UploadDir, logger)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", handler.Health)
	r.POST("/recipe/generate", handler.GenerateRecipe)
	r.POST("/recipe/generate-stream", handler.GenerateRecipeStream)
	r.POST("/recipe/upload", handler.UploadImage)
	r.POST("/questions/generate", handler.GenerateQuestions)

	logger.Info().Str("addr", cfg.ListenAddr).Str("provider", cfg.ModelProvider).Msg("starting server")
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

// newGateway selects the model provider from configuration.
func newGateway(ctx context.Context, cfg *config.Config) (gateway.ModelGateway, error) {
	switch cfg.ModelProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		return gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "local":
		return localllm.NewClient(cfg.LocalLLMURL, cfg.LocalLLMModel), nil
	default:
		return nil, fmt.Errorf("unknown MODEL_PROVIDER %q (want gemini or local)", cfg.ModelProvider)
	}
}
