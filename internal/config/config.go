package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings, populated from the environment.
type Config struct {
	ListenAddr     string
	ModelProvider  string
	GeminiAPIKey   string
	GeminiModel    string
	LocalLLMURL    string
	LocalLLMModel  string
	UploadDir      string
	CORSOrigins    []string
	GatewayTimeout time.Duration
	LogLevel       string
}

// Load reads configuration from environment variables, applying defaults for
// anything unset. It never fails; missing credentials surface later when the
// provider client is constructed.
func Load() *Config {
	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		ModelProvider:  getEnv("MODEL_PROVIDER", "gemini"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		LocalLLMURL:    getEnv("LOCAL_LLM_URL", "http://localhost:1234/v1/chat/completions"),
		LocalLLMModel:  getEnv("LOCAL_LLM_MODEL", "gemma-3-12b-it"),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		CORSOrigins:    strings.Split(getEnv("CORS_ORIGINS", "http://localhost:8081"), ","),
		GatewayTimeout: getDuration("GATEWAY_TIMEOUT_SECONDS", 45*time.Second),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	secs, err := strconv.Atoi(val)
	if err != nil || secs <= 0 {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
