package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	OCR       OCRConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Admission AdmissionConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string // health only
}

// OCRConfig points at the OCR collaborator's result store.
type OCRConfig struct {
	FolderBaseURL string
	ListTimeout   time.Duration
	FetchTimeout  time.Duration
	GCSEnabled    bool // resolve gs:// result locations with Cloud Storage
}

// LLMConfig holds inference backend configuration
type LLMConfig struct {
	Provider       string // openai | vertex | ollama
	Model          string
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	SummaryTimeout time.Duration
	VertexProject  string
	VertexRegion   string
	OllamaURL      string
}

// PipelineConfig holds worker pool and retry settings
type PipelineConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
	ChainDelay  time.Duration
	JobTimeout  time.Duration
}

// AdmissionConfig holds the OCR admission thresholds
type AdmissionConfig struct {
	MinContentLength int
	MinTableLength   int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		OCR: OCRConfig{
			FolderBaseURL: getEnv("OCR_BASE_URL", ""),
			ListTimeout:   getEnvAsDuration("OCR_LIST_TIMEOUT", 30*time.Second),
			FetchTimeout:  getEnvAsDuration("OCR_FETCH_TIMEOUT", 60*time.Second),
			GCSEnabled:    getEnvAsBool("OCR_GCS_ENABLED", false),
		},
		LLM: LLMConfig{
			Provider:       strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			Model:          getEnv("LLM_MODEL", ""), // backend default when empty
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.deepseek.com"),
			Timeout:        getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
			SummaryTimeout: getEnvAsDuration("LLM_SUMMARY_TIMEOUT", 300*time.Second),
			VertexProject:  getEnv("VERTEX_PROJECT", ""),
			VertexRegion:   getEnv("VERTEX_REGION", "us-central1"),
			OllamaURL:      getEnv("OLLAMA_URL", "http://localhost:11434"),
		},
		Pipeline: PipelineConfig{
			Workers:     getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:   getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			MaxAttempts: getEnvAsInt("PIPELINE_MAX_ATTEMPTS", 3),
			RetryDelay:  getEnvAsDuration("PIPELINE_RETRY_DELAY", 60*time.Second),
			ChainDelay:  getEnvAsDuration("PIPELINE_CHAIN_DELAY", 2*time.Second),
			JobTimeout:  getEnvAsDuration("PIPELINE_JOB_TIMEOUT", 10*time.Minute),
		},
		Admission: AdmissionConfig{
			MinContentLength: getEnvAsInt("ADMISSION_MIN_CONTENT", 1000),
			MinTableLength:   getEnvAsInt("ADMISSION_MIN_TABLE", 50),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
		}
	case "vertex":
		if c.LLM.VertexProject == "" || c.LLM.VertexRegion == "" {
			return NewAppError("CONFIG_ERROR", "VERTEX_PROJECT and VERTEX_REGION are required", ErrInvalidInput)
		}
	case "ollama":
	default:
		return NewAppError("CONFIG_ERROR", "LLM_PROVIDER must be openai, vertex or ollama", ErrInvalidInput)
	}
	if c.OCR.FolderBaseURL == "" && !c.OCR.GCSEnabled {
		return NewAppError("CONFIG_ERROR", "OCR_BASE_URL is required unless OCR_GCS_ENABLED is set", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_WORKERS and PIPELINE_MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	return nil
}
