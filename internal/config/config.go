package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/models"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Sources, in slot order
	CameraAddresses []string

	// Detector
	DetectorConfigPath string
	AIGRPCURL          string
	AITimeout          time.Duration

	// Batching
	BatchTimeout time.Duration // wait for stragglers once a batch has started
	MaxInFlight  int           // raw frames held across all source inboxes

	// Post-processing
	ClassOfInterest int
	CountAllClasses bool

	// Capture output, canonical size of every decoded frame
	OutputWidth  int
	OutputHeight int

	// Per-source ring buffer capacities
	FrameBufferSize    int
	CountBufferSize    int
	PositionBufferSize int

	// Backoff/Jitter config for reconnections
	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration
	ReconnectJitterPct  int

	// NATS (for result and event broadcast)
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	ResultsSubject     string
	EventsSubject      string

	// Viewer output
	JPEGQuality int

	// Pipeline events and per-consumer hook queues
	EventBufferSize int
	HookBufferSize  int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "worker-1"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		CameraAddresses: getEnvList("CAMERA_ADDRESSES", nil),

		// Detector
		DetectorConfigPath: getEnv("DETECTOR_CONFIG", "configs/peoplenet_detector.yaml"),
		AIGRPCURL:          getEnv("AI_GRPC_URL", ""),
		AITimeout:          getEnvDuration("AI_TIMEOUT", 0), // 0 keeps the detector file timeout

		// Batching
		BatchTimeout: getEnvDuration("BATCH_TIMEOUT", 20*time.Millisecond),
		MaxInFlight:  getEnvInt("MAX_IN_FLIGHT", 35),

		// Post-processing
		ClassOfInterest: getEnvInt("CLASS_OF_INTEREST", 0),
		CountAllClasses: getEnvBool("COUNT_ALL_CLASSES", false),

		// Capture output
		OutputWidth:  getEnvInt("OUTPUT_WIDTH", 1280),
		OutputHeight: getEnvInt("OUTPUT_HEIGHT", 720),

		// Ring buffers
		FrameBufferSize:    getEnvInt("FRAME_BUFFER_SIZE", 100),
		CountBufferSize:    getEnvInt("COUNT_BUFFER_SIZE", 60),
		PositionBufferSize: getEnvInt("POSITION_BUFFER_SIZE", 60),

		// Backoff/Jitter
		ReconnectBackoffMin: getEnvDuration("RECONNECT_BACKOFF_MIN", 1*time.Second),
		ReconnectBackoffMax: getEnvDuration("RECONNECT_BACKOFF_MAX", 30*time.Second),
		ReconnectJitterPct:  getEnvInt("RECONNECT_JITTER_PCT", 20),

		// NATS
		NatsEnabled:        getEnvBool("NATS_ENABLED", true),
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		ResultsSubject:     getEnv("RESULTS_SUBJECT", "detections.summary"),
		EventsSubject:      getEnv("EVENTS_SUBJECT", "pipeline.events"),

		JPEGQuality: getEnvInt("JPEG_QUALITY", 90),

		EventBufferSize: getEnvInt("EVENT_BUFFER", 64),
		HookBufferSize:  getEnvInt("HOOK_BUFFER", 256),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate checks the settings the pipeline cannot start without
func (c *Config) Validate() error {
	if len(c.CameraAddresses) == 0 {
		return &models.ConfigurationError{Field: "CAMERA_ADDRESSES", Reason: "at least one camera address is required"}
	}
	for i, addr := range c.CameraAddresses {
		if strings.TrimSpace(addr) == "" {
			return &models.ConfigurationError{Field: "CAMERA_ADDRESSES", Reason: "empty address at index " + strconv.Itoa(i)}
		}
	}
	if c.DetectorConfigPath == "" {
		return &models.ConfigurationError{Field: "DETECTOR_CONFIG", Reason: "detector config path is required"}
	}
	if c.BatchTimeout <= 0 {
		return &models.ConfigurationError{Field: "BATCH_TIMEOUT", Reason: "must be positive"}
	}
	if c.MaxInFlight <= 0 {
		return &models.ConfigurationError{Field: "MAX_IN_FLIGHT", Reason: "must be positive"}
	}
	if c.OutputWidth <= 0 || c.OutputHeight <= 0 {
		return &models.ConfigurationError{Field: "OUTPUT_WIDTH/OUTPUT_HEIGHT", Reason: "must be positive"}
	}
	if c.FrameBufferSize <= 0 || c.CountBufferSize <= 0 || c.PositionBufferSize <= 0 {
		return &models.ConfigurationError{Field: "*_BUFFER_SIZE", Reason: "ring buffer capacities must be positive"}
	}
	if c.ReconnectBackoffMax < c.ReconnectBackoffMin {
		return &models.ConfigurationError{Field: "RECONNECT_BACKOFF_MAX", Reason: "must not be lower than RECONNECT_BACKOFF_MIN"}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, keeping order and empty entries
// so Validate can point at them
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}
