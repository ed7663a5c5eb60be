package domain

// Config holds the complete Sentinel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" toml:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier" toml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" toml:"repository"`
	Cache      CacheConfig      `json:"cache" toml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" toml:"event_bus"`

	// Engine settings
	Identity IdentityConfig `json:"identity" toml:"identity"`
	Scoring  ScoringConfig  `json:"scoring" toml:"scoring"`
	Model    ModelConfig    `json:"model" toml:"model"`
	Registry RegistryConfig `json:"registry" toml:"registry"`
	Worker   WorkerConfig   `json:"worker" toml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" toml:"logging"`
	Tracing TracingConfig `json:"tracing" toml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" toml:"host"`
	Port         int    `json:"port" toml:"port"`
	ReadTimeout  int    `json:"readTimeout" toml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" toml:"write_timeout"` // seconds
}

// IdentityConfig selects the similarity metric and match thresholds.
type IdentityConfig struct {
	// Metric is "jaccard" (token set overlap) or "token_edit"
	// (edit-distance token alignment).
	Metric           string  `json:"metric" toml:"metric"`
	NameThreshold    float64 `json:"nameThreshold" toml:"name_threshold"`
	AddressThreshold float64 `json:"addressThreshold" toml:"address_threshold"`
}

// ScoringConfig holds detector and batch settings.
type ScoringConfig struct {
	Workers              int     `json:"workers" toml:"workers"`
	BatchTimeoutSec      int     `json:"batchTimeoutSec" toml:"batch_timeout_sec"`
	AnomalyMinPeers      int     `json:"anomalyMinPeers" toml:"anomaly_min_peers"`
	AnomalyTrees         int     `json:"anomalyTrees" toml:"anomaly_trees"`
	AnomalyContamination float64 `json:"anomalyContamination" toml:"anomaly_contamination"`
	SimilarityMinPeers   int     `json:"similarityMinPeers" toml:"similarity_min_peers"`
	SimilarityThreshold  float64 `json:"similarityThreshold" toml:"similarity_threshold"`
	VocabularySize       int     `json:"vocabularySize" toml:"vocabulary_size"`
	Seed                 int64   `json:"seed" toml:"seed"`
}

// ModelConfig holds classifier training settings.
type ModelConfig struct {
	Name             string `json:"name" toml:"name"`
	TrainingDataPath string `json:"trainingDataPath" toml:"training_data_path"`
	ForestTrees      int    `json:"forestTrees" toml:"forest_trees"`
	BoostTrees       int    `json:"boostTrees" toml:"boost_trees"`
	Seed             int64  `json:"seed" toml:"seed"`
}

// RegistryConfig points at the external registry datasets.
type RegistryConfig struct {
	VehiclePath string `json:"vehiclePath" toml:"vehicle_path"`
	UtilityPath string `json:"utilityPath" toml:"utility_path"`
	CivilPath   string `json:"civilPath" toml:"civil_path"`
}

// WorkerConfig controls the asynchronous scoring worker. An empty tenant
// list subscribes to GlobalTenant.
type WorkerConfig struct {
	Enabled bool     `json:"enabled" toml:"enabled"`
	Tenants []string `json:"tenants" toml:"tenants"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" toml:"level"`   // debug, info, warn, error
	Format string `json:"format" toml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" toml:"enabled"`
	ServiceName string `json:"serviceName" toml:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./sentinel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTLSec:  300,
			EntryTTLSec:  3600,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Identity: IdentityConfig{
			Metric:           "jaccard",
			NameThreshold:    0.70,
			AddressThreshold: 0.50,
		},
		Scoring: ScoringConfig{
			Workers:              8,
			BatchTimeoutSec:      120,
			AnomalyMinPeers:      10,
			AnomalyTrees:         100,
			AnomalyContamination: 0.1,
			SimilarityMinPeers:   2,
			SimilarityThreshold:  0.8,
			VocabularySize:       100,
			Seed:                 42,
		},
		Model: ModelConfig{
			Name:             "welfare-fraud-ensemble",
			TrainingDataPath: "./data/financial_intelligence.csv",
			ForestTrees:      200,
			BoostTrees:       150,
			Seed:             42,
		},
		Registry: RegistryConfig{
			VehiclePath: "./data/vahan_registry.csv",
			UtilityPath: "./data/discom_registry.csv",
			CivilPath:   "./data/civil_registry.csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentinel",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "sentinel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTLSec:    60,
		EntryTTLSec:    3600,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
