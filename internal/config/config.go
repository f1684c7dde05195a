// Package config loads kbindex configuration from defaults, a .env file,
// an optional YAML file and KBINDEX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// EnvPrefix prefixes every environment override. Nested fields use "__",
// e.g. KBINDEX_QDRANT__HOST.
const EnvPrefix = "KBINDEX_"

// Embedding providers.
const (
	ProviderHTTP   = "http"
	ProviderOllama = "ollama"
	ProviderStatic = "static"
)

// Vector store backends.
const (
	BackendQdrant = "qdrant"
	BackendHNSW   = "hnsw"
	BackendMemory = "memory"
)

// Config is the complete kbindex configuration.
type Config struct {
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Store         StoreConfig         `yaml:"store"`
	Qdrant        QdrantConfig        `yaml:"qdrant"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Server        ServerConfig        `yaml:"server"`
	Indexer       IndexerConfig       `yaml:"indexer"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// KnowledgeBaseConfig locates the source documents.
type KnowledgeBaseConfig struct {
	// Dir holds the files to index (flat, not recursive).
	Dir string `yaml:"dir"`
	// PublicURL is the externally reachable base of the HTTP API,
	// used to build /files/<name> links for retrieved sources.
	PublicURL string `yaml:"public_url"`
	// Watch re-triggers indexing when Dir changes.
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// ChunkingConfig controls the recursive splitter.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"`
	URL            string        `yaml:"url"`
	Model          string        `yaml:"model"`
	VectorSize     int           `yaml:"vector_size"`
	BatchSize      int           `yaml:"batch_size"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	QueryCacheSize int           `yaml:"query_cache_size"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the directory holding hnsw backend index files.
	Path string `yaml:"path"`
}

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	SearchK    int    `yaml:"search_k"`
}

// TranscriptionConfig configures the speech-to-text backend for audio files.
type TranscriptionConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	DisplayName string `yaml:"display_name"`
}

// IndexerConfig configures the indexing coordinator.
type IndexerConfig struct {
	StartOnStartup bool   `yaml:"start_on_startup"`
	DataDir        string `yaml:"data_dir"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	// OTLPEndpoint is a gRPC collector address; empty disables export.
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Stderr bool   `yaml:"stderr"`
}

// NewConfig returns a configuration with all defaults applied.
func NewConfig() *Config {
	return &Config{
		KnowledgeBase: KnowledgeBaseConfig{
			Dir:           "./knowledge_base",
			PublicURL:     "http://localhost:3001",
			WatchDebounce: 2 * time.Second,
		},
		Chunking: ChunkingConfig{
			Size:    500,
			Overlap: 50,
		},
		Embedding: EmbeddingConfig{
			Provider:       ProviderHTTP,
			URL:            "http://localhost:3003/embed",
			Model:          "Qwen/Qwen3-Embedding-0.6B",
			VectorSize:     1024,
			BatchSize:      32,
			Timeout:        60 * time.Second,
			MaxRetries:     3,
			QueryCacheSize: 1000,
		},
		Store: StoreConfig{
			Backend: BackendQdrant,
			Path:    filepath.Join(".kbindex", "vectors"),
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "knowledge_base",
			SearchK:    5,
		},
		Transcription: TranscriptionConfig{
			URL:     "https://api.openai.com/v1/audio/transcriptions",
			Model:   "whisper-1",
			Timeout: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3001,
			DisplayName: "RAG Assistant",
		},
		Indexer: IndexerConfig{
			StartOnStartup: true,
			DataDir:        ".kbindex",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "kbindex",
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(".kbindex", "logs", "kbindex.log"),
			Stderr: true,
		},
	}
}

// Load builds the configuration. Precedence (lowest to highest):
//  1. Hardcoded defaults
//  2. YAML file: path if non-empty, otherwise kbindex.yaml / kbindex.yml in dir
//  3. Environment variables (KBINDEX_*), after loading dir/.env
//
// Values already present in the environment win over the .env file.
func Load(dir, path string) (*Config, error) {
	cfg := NewConfig()

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	if path == "" {
		path = findConfigFile(dir)
	} else if _, err := os.Stat(path); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeConfigNotFound,
			fmt.Sprintf("config file %s not found", path), err)
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return kberrors.ConfigError(fmt.Sprintf("load %s", path), err)
	}
	return nil
}

func findConfigFile(dir string) string {
	for _, name := range []string{"kbindex.yaml", "kbindex.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadYAML decodes path on top of the current values; keys absent from the
// file keep their defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return kberrors.ConfigError(fmt.Sprintf("read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return kberrors.ConfigError(fmt.Sprintf("parse config file %s", path), err)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

type envSetter func(c *Config, v string) error

func setString(dst func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func setInt(dst func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func setBool(dst func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func setDuration(dst func(*Config) *time.Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func setFloat(dst func(*Config) *float64) envSetter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

// envOverrides maps the part after EnvPrefix to a field setter.
var envOverrides = map[string]envSetter{
	"KNOWLEDGE_BASE__DIR":            setString(func(c *Config) *string { return &c.KnowledgeBase.Dir }),
	"KNOWLEDGE_BASE__PUBLIC_URL":     setString(func(c *Config) *string { return &c.KnowledgeBase.PublicURL }),
	"KNOWLEDGE_BASE__WATCH":          setBool(func(c *Config) *bool { return &c.KnowledgeBase.Watch }),
	"KNOWLEDGE_BASE__WATCH_DEBOUNCE": setDuration(func(c *Config) *time.Duration { return &c.KnowledgeBase.WatchDebounce }),
	"CHUNKING__SIZE":                 setInt(func(c *Config) *int { return &c.Chunking.Size }),
	"CHUNKING__OVERLAP":              setInt(func(c *Config) *int { return &c.Chunking.Overlap }),
	"EMBEDDING__PROVIDER":            setString(func(c *Config) *string { return &c.Embedding.Provider }),
	"EMBEDDING__URL":                 setString(func(c *Config) *string { return &c.Embedding.URL }),
	"EMBEDDING__MODEL":               setString(func(c *Config) *string { return &c.Embedding.Model }),
	"EMBEDDING__VECTOR_SIZE":         setInt(func(c *Config) *int { return &c.Embedding.VectorSize }),
	"EMBEDDING__BATCH_SIZE":          setInt(func(c *Config) *int { return &c.Embedding.BatchSize }),
	"EMBEDDING__TIMEOUT":             setDuration(func(c *Config) *time.Duration { return &c.Embedding.Timeout }),
	"EMBEDDING__MAX_RETRIES":         setInt(func(c *Config) *int { return &c.Embedding.MaxRetries }),
	"EMBEDDING__QUERY_CACHE_SIZE":    setInt(func(c *Config) *int { return &c.Embedding.QueryCacheSize }),
	"STORE__BACKEND":                 setString(func(c *Config) *string { return &c.Store.Backend }),
	"STORE__PATH":                    setString(func(c *Config) *string { return &c.Store.Path }),
	"QDRANT__HOST":                   setString(func(c *Config) *string { return &c.Qdrant.Host }),
	"QDRANT__PORT":                   setInt(func(c *Config) *int { return &c.Qdrant.Port }),
	"QDRANT__COLLECTION":             setString(func(c *Config) *string { return &c.Qdrant.Collection }),
	"QDRANT__API_KEY":                setString(func(c *Config) *string { return &c.Qdrant.APIKey }),
	"QDRANT__USE_TLS":                setBool(func(c *Config) *bool { return &c.Qdrant.UseTLS }),
	"QDRANT__SEARCH_K":               setInt(func(c *Config) *int { return &c.Qdrant.SearchK }),
	"TRANSCRIPTION__URL":             setString(func(c *Config) *string { return &c.Transcription.URL }),
	"TRANSCRIPTION__MODEL":           setString(func(c *Config) *string { return &c.Transcription.Model }),
	"TRANSCRIPTION__API_KEY":         setString(func(c *Config) *string { return &c.Transcription.APIKey }),
	"TRANSCRIPTION__TIMEOUT":         setDuration(func(c *Config) *time.Duration { return &c.Transcription.Timeout }),
	"SERVER__HOST":                   setString(func(c *Config) *string { return &c.Server.Host }),
	"SERVER__PORT":                   setInt(func(c *Config) *int { return &c.Server.Port }),
	"SERVER__DISPLAY_NAME":           setString(func(c *Config) *string { return &c.Server.DisplayName }),
	"INDEXER__START_ON_STARTUP":      setBool(func(c *Config) *bool { return &c.Indexer.StartOnStartup }),
	"INDEXER__DATA_DIR":              setString(func(c *Config) *string { return &c.Indexer.DataDir }),
	"TELEMETRY__OTLP_ENDPOINT":       setString(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint }),
	"TELEMETRY__SERVICE_NAME":        setString(func(c *Config) *string { return &c.Telemetry.ServiceName }),
	"TELEMETRY__SAMPLE_RATE":         setFloat(func(c *Config) *float64 { return &c.Telemetry.SampleRate }),
	"LOGGING__LEVEL":                 setString(func(c *Config) *string { return &c.Logging.Level }),
	"LOGGING__FILE":                  setString(func(c *Config) *string { return &c.Logging.File }),
	"LOGGING__STDERR":                setBool(func(c *Config) *bool { return &c.Logging.Stderr }),
}

// applyEnvOverrides applies KBINDEX_* variables found by lookup.
// OPENAI_API_KEY fills an empty transcription key, as the original
// deployment shared one key between chat and transcription.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	for key, set := range envOverrides {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		if err := set(c, strings.TrimSpace(v)); err != nil {
			return kberrors.ConfigError(fmt.Sprintf("invalid value for %s%s: %q", EnvPrefix, key, v), err)
		}
	}
	if c.Transcription.APIKey == "" {
		if v, ok := lookup("OPENAI_API_KEY"); ok {
			c.Transcription.APIKey = v
		}
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return kberrors.ConfigError(fmt.Sprintf("chunking.size must be positive, got %d", c.Chunking.Size), nil)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return kberrors.ConfigError(fmt.Sprintf("chunking.overlap must be in [0, size), got %d with size %d",
			c.Chunking.Overlap, c.Chunking.Size), nil)
	}
	if c.Embedding.VectorSize <= 0 {
		return kberrors.ConfigError(fmt.Sprintf("embedding.vector_size must be positive, got %d", c.Embedding.VectorSize), nil)
	}
	if c.Embedding.BatchSize <= 0 {
		return kberrors.ConfigError(fmt.Sprintf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize), nil)
	}
	if c.Embedding.MaxRetries < 0 {
		return kberrors.ConfigError(fmt.Sprintf("embedding.max_retries must be non-negative, got %d", c.Embedding.MaxRetries), nil)
	}
	if c.Qdrant.SearchK <= 0 {
		return kberrors.ConfigError(fmt.Sprintf("qdrant.search_k must be positive, got %d", c.Qdrant.SearchK), nil)
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case ProviderHTTP, ProviderOllama, ProviderStatic:
	default:
		return kberrors.ConfigError(fmt.Sprintf("embedding.provider must be 'http', 'ollama' or 'static', got %q", c.Embedding.Provider), nil).
			WithSuggestion("Use 'static' to run without an embedding service")
	}

	switch strings.ToLower(c.Store.Backend) {
	case BackendQdrant, BackendHNSW, BackendMemory:
	default:
		return kberrors.ConfigError(fmt.Sprintf("store.backend must be 'qdrant', 'hnsw' or 'memory', got %q", c.Store.Backend), nil)
	}
	if strings.EqualFold(c.Store.Backend, BackendQdrant) && c.Qdrant.Collection == "" {
		return kberrors.ConfigError("qdrant.collection must not be empty", nil)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return kberrors.ConfigError(fmt.Sprintf("server.port must be in 1..65535, got %d", c.Server.Port), nil)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return kberrors.ConfigError(fmt.Sprintf("telemetry.sample_rate must be in [0, 1], got %f", c.Telemetry.SampleRate), nil)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return kberrors.ConfigError(fmt.Sprintf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level), nil)
	}
	return nil
}
