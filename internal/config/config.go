// Package config loads all environment variables for the retrieval engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the retrieval engine service.
type Config struct {
	// Server
	APIHost string
	APIPort string

	// Database (chunk store + index backends)
	DatabaseURL string

	// Fan-out
	MethodTimeout  time.Duration // per-method timeout
	FanoutDeadline time.Duration // shared deadline across all methods
	MethodTopK     int           // candidates requested from each backend

	// Fusion
	RRFK          int
	FanInMultiple int // fused list kept at FanInMultiple × requested limit
	DefaultLimit  int

	// Method floors
	DenseMinSimilarity float64
	FuzzyMinSimilarity float64

	// Reranker
	RerankEndpoint   string
	RerankAPIKey     string
	RerankModel      string
	RerankTimeout    time.Duration
	RerankBlendRatio float64

	// Context expansion
	ExpandRadius int

	// Circuit breakers
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerResetTimeout     time.Duration
	BreakerFailureWindow    time.Duration

	// Semantic cache
	CacheExactThreshold float64 // near-tier similarity treated as exact-equivalent
	CacheNearThreshold  float64 // near-tier similarity treated as approximate
	CacheExactTTL       time.Duration
	CacheNearTTL        time.Duration
	CacheHotCapacity    int
	CacheNearCapacity   int
	CacheWarmPath       string // badger directory; empty disables the warm tier

	// Adaptive parameters
	WeightStep      float64
	WeightMin       float64
	WeightMax       float64
	FeedbackWorkers int

	// Embedding sidecar
	EmbedEndpoint string

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		APIHost: envOr("API_HOST", "0.0.0.0"),
		APIPort: envOr("API_PORT", "8000"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		MethodTimeout:  envDurationMS("METHOD_TIMEOUT_MS", 800),
		FanoutDeadline: envDurationMS("FANOUT_DEADLINE_MS", 1500),
		MethodTopK:     envInt("METHOD_TOP_K", 50),

		RRFK:          envInt("RRF_K", 60),
		FanInMultiple: envInt("FANIN_MULTIPLE", 2),
		DefaultLimit:  envInt("DEFAULT_LIMIT", 10),

		DenseMinSimilarity: envFloat("DENSE_MIN_SIMILARITY", 0.5),
		FuzzyMinSimilarity: envFloat("FUZZY_MIN_SIMILARITY", 0.3),

		RerankEndpoint:   envOr("RERANK_ENDPOINT", "https://api.cohere.com/v2/rerank"),
		RerankAPIKey:     os.Getenv("RERANK_API_KEY"),
		RerankModel:      envOr("RERANK_MODEL", "rerank-v3.5"),
		RerankTimeout:    envDurationMS("RERANK_TIMEOUT_MS", 3000),
		RerankBlendRatio: envFloat("RERANK_BLEND_RATIO", 0.5),

		ExpandRadius: envInt("EXPAND_RADIUS", 1),

		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: envInt("BREAKER_SUCCESS_THRESHOLD", 3),
		BreakerResetTimeout:     envDurationMS("BREAKER_RESET_TIMEOUT_MS", 60000),
		BreakerFailureWindow:    envDurationMS("BREAKER_FAILURE_WINDOW_MS", 60000),

		CacheExactThreshold: envFloat("CACHE_EXACT_THRESHOLD", 0.98),
		CacheNearThreshold:  envFloat("CACHE_NEAR_THRESHOLD", 0.93),
		CacheExactTTL:       envDurationMS("CACHE_EXACT_TTL_MS", 300000),
		CacheNearTTL:        envDurationMS("CACHE_NEAR_TTL_MS", 120000),
		CacheHotCapacity:    envInt("CACHE_HOT_CAPACITY", 1024),
		CacheNearCapacity:   envInt("CACHE_NEAR_CAPACITY", 512),
		CacheWarmPath:       os.Getenv("CACHE_WARM_PATH"),

		WeightStep:      envFloat("WEIGHT_STEP", 0.05),
		WeightMin:       envFloat("WEIGHT_MIN", 0.1),
		WeightMax:       envFloat("WEIGHT_MAX", 3.0),
		FeedbackWorkers: envInt("FEEDBACK_WORKERS", 4),

		EmbedEndpoint: envOr("EMBED_ENDPOINT", "http://embed:8001/embed"),

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CacheNearThreshold > cfg.CacheExactThreshold {
		return nil, fmt.Errorf("CACHE_NEAR_THRESHOLD (%.3f) must not exceed CACHE_EXACT_THRESHOLD (%.3f)",
			cfg.CacheNearThreshold, cfg.CacheExactThreshold)
	}
	if cfg.RerankBlendRatio < 0 || cfg.RerankBlendRatio > 1 {
		return nil, fmt.Errorf("RERANK_BLEND_RATIO must be in [0,1], got %.3f", cfg.RerankBlendRatio)
	}

	return cfg, nil
}

// Addr returns the listen address as "host:port".
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.APIHost, c.APIPort)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDurationMS(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}
