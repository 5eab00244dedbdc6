// Package config defines the process configuration shared by the binaries
// and loads it from defaults, an optional YAML file and the environment.
package config

import (
	"time"

	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/policy"
)

// Config is the full process configuration.
type Config struct {
	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is json or text.
	LogFormat string `koanf:"log_format"`

	HTTP   HTTP   `koanf:"http"`
	Qdrant Qdrant `koanf:"qdrant"`
	Neo4j  Neo4j  `koanf:"neo4j"`
	NATS   NATS   `koanf:"nats"`
	Ollama Ollama `koanf:"ollama"`
	Images Images `koanf:"images"`
	Oracle Oracle `koanf:"oracle"`
	Ingest Ingest `koanf:"ingest"`

	Layout     features.Layout   `koanf:"layout"`
	Thresholds policy.Thresholds `koanf:"thresholds"`
}

// HTTP configures the API server.
type HTTP struct {
	Addr         string        `koanf:"addr"`
	CORSOrigin   string        `koanf:"cors_origin"`
	ServiceName  string        `koanf:"service_name"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// MaxBodyBytes bounds request bodies, document uploads included.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// Qdrant configures the similarity index. InMemory replaces Qdrant with the
// process-local index.
type Qdrant struct {
	Addr     string `koanf:"addr"`
	InMemory bool   `koanf:"in_memory"`
}

// Neo4j configures the optional trust graph mirror; an empty URL disables it.
type Neo4j struct {
	URL  string `koanf:"url"`
	User string `koanf:"user"`
	Pass string `koanf:"pass"`
}

// NATS configures snapshot events; an empty URL disables them.
type NATS struct {
	URL  string `koanf:"url"`
	Name string `koanf:"name"`
}

// Ollama configures the text encoder and the narrative generator. An empty
// GenModel disables generated narratives.
type Ollama struct {
	URL        string        `koanf:"url"`
	EmbedModel string        `koanf:"embed_model"`
	GenModel   string        `koanf:"gen_model"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Images configures the document image encoder. An empty URL selects the
// local average-hash encoder.
type Images struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// Oracle guards the narrative generator.
type Oracle struct {
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	FailThreshold int           `koanf:"fail_threshold"`
	OpenTimeout   time.Duration `koanf:"open_timeout"`
	CallTimeout   time.Duration `koanf:"call_timeout"`
}

// Ingest configures corpus loading.
type Ingest struct {
	BatchSize   int           `koanf:"batch_size"`
	Workers     int           `koanf:"workers"`
	MaxAttempts int           `koanf:"max_attempts"`
	RetryWait   time.Duration `koanf:"retry_wait"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		HTTP: HTTP{
			Addr:         ":8080",
			CORSOrigin:   "*",
			ServiceName:  "credit-memory-api",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Qdrant: Qdrant{Addr: "localhost:6334"},
		Neo4j:  Neo4j{User: "neo4j", Pass: "password"},
		NATS:   NATS{Name: "credit-memory"},
		Ollama: Ollama{
			URL:        "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			Timeout:    30 * time.Second,
		},
		Images: Images{Timeout: 30 * time.Second},
		Oracle: Oracle{
			RatePerSecond: 2,
			Burst:         4,
			FailThreshold: 5,
			OpenTimeout:   30 * time.Second,
			CallTimeout:   20 * time.Second,
		},
		Ingest: Ingest{
			BatchSize:   100,
			Workers:     4,
			MaxAttempts: 3,
			RetryWait:   time.Second,
		},
		Layout:     features.DefaultLayout(),
		Thresholds: policy.Default(),
	}
}
