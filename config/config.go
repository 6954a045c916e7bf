package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures every runtime option the engine recognises. Values are read
// from the environment once at startup; components receive the struct rather
// than consulting os.Getenv themselves.
type Config struct {
	// Embeddings
	EmbeddingDimensions int
	UseMockEmbeddings   bool

	// Ingestion chunking
	ChunkSize    int
	ChunkOverlap int

	// Hybrid retrieval
	VectorWeight  float32
	KeywordWeight float32
	TopK          int

	// Dual-store mode
	UseDualVectorStore bool

	// Coordinator loop
	MaxVerificationLoops  int
	AllowLowGradeFallback bool
	CacheFailures         bool
	EnableQueryRewriting  bool
	UseLLMClassifier      bool

	// Grading
	UseSemanticGrading   bool
	GradeHighThreshold   float64
	GradeMediumThreshold float64

	// Verification
	VerificationThreshold  float64
	MinTechnicalTermLength int

	// Web search
	WebSearchConcurrentRequests int
	WebSearchFailureThrottle    time.Duration
	WebSearchContextSize        int
	WebSearchLocation           string
	WebSearchAllowlist          []string

	// SQL sub-agent
	EnableSQLAgent         bool
	SQLAgentMaxRows        int
	SQLAgentTimeout        time.Duration
	SQLAgentMaxCost        float64
	SQLAgentTableAllowlist []string
}

// FromEnv loads the configuration from the environment with defaults applied.
func FromEnv() *Config {
	return &Config{
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		UseMockEmbeddings:   getEnvBool("USE_MOCK_EMBEDDINGS", false),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),

		VectorWeight:  float32(getEnvFloat("HYBRID_VECTOR_WEIGHT", 0.7)),
		KeywordWeight: float32(getEnvFloat("HYBRID_KEYWORD_WEIGHT", 0.3)),
		TopK:          getEnvInt("RAG_TOP_K", 6),

		UseDualVectorStore: getEnvBool("USE_DUAL_VECTOR_STORE", false),

		MaxVerificationLoops:  getEnvInt("MAX_VERIFICATION_LOOPS", 2),
		AllowLowGradeFallback: getEnvBool("ALLOW_LOW_GRADE_FALLBACK", false),
		CacheFailures:         getEnvBool("CACHE_FAILURES", false),
		EnableQueryRewriting:  getEnvBool("ENABLE_QUERY_REWRITING", true),
		UseLLMClassifier:      getEnvBool("USE_LLM_CLASSIFIER", false),

		UseSemanticGrading:   getEnvBool("USE_SEMANTIC_GRADING", false),
		GradeHighThreshold:   getEnvFloat("GRADE_HIGH_THRESHOLD", 0.5),
		GradeMediumThreshold: getEnvFloat("GRADE_MEDIUM_THRESHOLD", 0.2),

		VerificationThreshold:  getEnvFloat("VERIFICATION_THRESHOLD", 0.5),
		MinTechnicalTermLength: getEnvInt("MIN_TECHNICAL_TERM_LENGTH", 4),

		WebSearchConcurrentRequests: getEnvInt("WEB_SEARCH_CONCURRENT_REQUESTS", 3),
		WebSearchFailureThrottle:    getEnvDuration("WEB_SEARCH_FAILURE_THROTTLE_MS", 5*time.Second),
		WebSearchContextSize:        getEnvInt("WEB_SEARCH_CONTEXT_SIZE", 2000),
		WebSearchLocation:           os.Getenv("WEB_SEARCH_LOCATION"),
		WebSearchAllowlist:          getEnvList("WEB_SEARCH_ALLOWLIST"),

		EnableSQLAgent:         getEnvBool("ENABLE_SQL_AGENT", false),
		SQLAgentMaxRows:        getEnvInt("SQL_AGENT_MAX_ROWS", 50),
		SQLAgentTimeout:        getEnvDuration("SQL_AGENT_TIMEOUT_MS", 5*time.Second),
		SQLAgentMaxCost:        getEnvFloat("SQL_AGENT_MAX_COST", 10000),
		SQLAgentTableAllowlist: getEnvList("SQL_AGENT_TABLE_ALLOWLIST"),
	}
}

// MaxPasses returns how many times the coordinator loop may run.
func (c *Config) MaxPasses() int {
	if c.MaxVerificationLoops < 0 {
		return 1
	}
	return c.MaxVerificationLoops + 1
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	v := NewValidator()
	v.RequirePositive("EMBEDDING_DIMENSIONS", c.EmbeddingDimensions)
	v.RequirePositive("CHUNK_SIZE", c.ChunkSize)
	v.ValidateRange("CHUNK_OVERLAP", c.ChunkOverlap, 0, c.ChunkSize-1)
	v.RequirePositive("RAG_TOP_K", c.TopK)
	v.ValidateFloatRange("HYBRID_VECTOR_WEIGHT", float64(c.VectorWeight), 0, 10)
	v.ValidateFloatRange("HYBRID_KEYWORD_WEIGHT", float64(c.KeywordWeight), 0, 10)
	v.ValidateFloatRange("GRADE_HIGH_THRESHOLD", c.GradeHighThreshold, 0, 1)
	v.ValidateFloatRange("GRADE_MEDIUM_THRESHOLD", c.GradeMediumThreshold, 0, 1)
	v.ValidateFloatRange("VERIFICATION_THRESHOLD", c.VerificationThreshold, 0, 1)
	v.RequirePositive("WEB_SEARCH_CONCURRENT_REQUESTS", c.WebSearchConcurrentRequests)
	return v.Error()
}

// Helper functions for environment variable reading

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration reads millisecond-suffixed keys as integer milliseconds and
// falls back to Go duration syntax for everything else.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if strings.HasSuffix(key, "_MS") {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
