// Package config loads process-wide settings once at startup into an
// immutable Config value. All knobs come from the environment; an optional
// YAML overlay supplies the alert sinks and user-agent lists. Nothing here
// mutates after startup. Only the robots ruleset supports hot reload, and
// that lives in its own refresher.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlaceholderSeed is the documented default for SYSTEM_SEED. Starting any
// service with this value is a fatal configuration error.
const PlaceholderSeed = "change_me_in_production"

var (
	ErrPlaceholderSeed = errors.New("SYSTEM_SEED is still the documented placeholder")
	ErrMissingSeed     = errors.New("SYSTEM_SEED is required")
)

// Config is the process-wide configuration. Passed by pointer into component
// constructors; treated as read-only after Load.
type Config struct {
	// Identity / seeding
	SystemSeed string

	// Service listen ports
	EdgePort       string
	TarpitPort     string
	EscalationPort string
	ActionPort     string

	// Routing targets
	BackendURL           string // real backend the edge proxies to
	TarpitURL            string // tarpit base URL the edge diverts to
	EscalationWebhookURL string // where the tarpit posts RequestMetadata
	ActionWebhookURL     string // where the escalation engine posts ActionEvents

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       RedisDatabases

	// Postgres (Markov corpus, read-only)
	MarkovDatabaseURL string

	// Blocklist
	BlocklistTTL time.Duration

	// Tarpit
	TarpitMaxHops        int           // 0 or negative disables hop enforcement
	TarpitHopWindow      time.Duration // 0 or negative disables hop enforcement
	TarpitMinDelay       time.Duration
	TarpitMaxDelay       time.Duration
	TarpitMode           string // "classic" or "labyrinth"
	LabyrinthDepth       int
	EnableFingerprinting bool

	// Escalation
	FrequencyWindow     time.Duration
	EscalationThreshold float64
	ModelURI            string
	ModelAPIKey         string
	ModelTimeout        time.Duration
	ModelInitRetries    int
	ModelInitDelay      time.Duration

	// IP reputation
	EnableIPReputation      bool
	IPReputationURL         string
	IPReputationAPIKey      string
	IPReputationMinSeverity float64
	IPReputationBonus       float64

	// Community reporting
	CommunityReportURL       string
	CommunityReportAPIKey    string
	CommunityReportThreshold float64

	// Alerts (env-configured sinks; the YAML overlay can add more)
	AlertWebhookURL  string
	AlertChatURL     string
	AlertSMTPHost    string
	AlertSMTPPort    int
	AlertSMTPFrom    string
	AlertSMTPTo      string
	AlertMinSeverity string

	// Operational event channel (Redis pub/sub). Empty disables publishing.
	EventChannelPrefix string

	// Robots
	RobotsFilePath        string
	RobotsRefreshInterval time.Duration

	// Escalation worker pool
	EscalationWorkers   int
	EscalationQueueSize int

	// Optional YAML overlay (alert sinks, user-agent lists)
	OverlayPath string
}

// RedisDatabases maps the logical keyspaces onto Redis database numbers.
type RedisDatabases struct {
	Blocklist    int
	Tarpit       int // visit flags
	Frequency    int
	HopCounts    int
	Fingerprints int
}

// Load reads the environment into a Config, applying defaults. It does not
// validate the seed; call Validate before serving traffic so that tools
// which never generate content (e.g. defense-check) can still load config.
func Load() *Config {
	return &Config{
		SystemSeed: getEnv("SYSTEM_SEED", PlaceholderSeed),

		EdgePort:       getEnv("EDGE_PORT", "8080"),
		TarpitPort:     getEnv("TAR_PIT_PORT", "8081"),
		EscalationPort: getEnv("ESCALATION_PORT", "8082"),
		ActionPort:     getEnv("ACTION_PORT", "8083"),

		BackendURL:           getEnv("REAL_BACKEND_URL", "http://localhost:9000"),
		TarpitURL:            getEnv("TAR_PIT_URL", "http://localhost:8081"),
		EscalationWebhookURL: getEnv("ESCALATION_ENGINE_URL", "http://localhost:8082/escalate"),
		ActionWebhookURL:     getEnv("ESCALATION_WEBHOOK_URL", "http://localhost:8083/analyze"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB: RedisDatabases{
			Blocklist:    getEnvInt("REDIS_DB_BLOCKLIST", 2),
			Tarpit:       getEnvInt("REDIS_DB_TAR_PIT", 1),
			Frequency:    getEnvInt("REDIS_DB_FREQUENCY", 3),
			HopCounts:    getEnvInt("REDIS_DB_HOPS", 5),
			Fingerprints: getEnvInt("REDIS_DB_FINGERPRINTS", 4),
		},

		MarkovDatabaseURL: os.Getenv("MARKOV_DATABASE_URL"),

		BlocklistTTL: getEnvSeconds("BLOCKLIST_TTL_SECONDS", 86400),

		TarpitMaxHops:        getEnvInt("TAR_PIT_MAX_HOPS", 250),
		TarpitHopWindow:      getEnvSeconds("TAR_PIT_HOP_WINDOW_SECONDS", 86400),
		TarpitMinDelay:       getEnvSecondsFloat("TAR_PIT_MIN_DELAY_SEC", 0.6),
		TarpitMaxDelay:       getEnvSecondsFloat("TAR_PIT_MAX_DELAY_SEC", 1.2),
		TarpitMode:           getEnv("TAR_PIT_MODE", "classic"),
		LabyrinthDepth:       getEnvInt("TAR_PIT_LABYRINTH_DEPTH", 5),
		EnableFingerprinting: getEnvBool("ENABLE_FINGERPRINTING", false),

		FrequencyWindow:     getEnvSeconds("FREQUENCY_WINDOW_SECONDS", 300),
		EscalationThreshold: getEnvFloat("ESCALATION_THRESHOLD", 0.8),
		ModelURI:            getEnv("MODEL_URI", "heuristic"),
		ModelAPIKey:         os.Getenv("MODEL_API_KEY"),
		ModelTimeout:        getEnvSeconds("MODEL_TIMEOUT_SECONDS", 10),
		ModelInitRetries:    getEnvInt("MODEL_INIT_RETRIES", 3),
		ModelInitDelay:      getEnvSeconds("MODEL_INIT_DELAY_SECONDS", 2),

		EnableIPReputation:      getEnvBool("ENABLE_IP_REPUTATION", false),
		IPReputationURL:         os.Getenv("IP_REPUTATION_API_URL"),
		IPReputationAPIKey:      os.Getenv("IP_REPUTATION_API_KEY"),
		IPReputationMinSeverity: getEnvFloat("IP_REPUTATION_MIN_MALICIOUS_THRESHOLD", 0.5),
		IPReputationBonus:       getEnvFloat("IP_REPUTATION_BONUS", 0.2),

		CommunityReportURL:       os.Getenv("COMMUNITY_BLOCKLIST_REPORT_URL"),
		CommunityReportAPIKey:    os.Getenv("COMMUNITY_BLOCKLIST_API_KEY"),
		CommunityReportThreshold: getEnvFloat("COMMUNITY_BLOCKLIST_REPORT_THRESHOLD", 0.9),

		AlertWebhookURL:  os.Getenv("ALERT_GENERIC_WEBHOOK_URL"),
		AlertChatURL:     os.Getenv("ALERT_CHAT_WEBHOOK_URL"),
		AlertSMTPHost:    os.Getenv("ALERT_SMTP_HOST"),
		AlertSMTPPort:    getEnvInt("ALERT_SMTP_PORT", 587),
		AlertSMTPFrom:    os.Getenv("ALERT_SMTP_FROM"),
		AlertSMTPTo:      os.Getenv("ALERT_SMTP_TO"),
		AlertMinSeverity: getEnv("ALERT_MIN_SEVERITY", "warning"),

		EventChannelPrefix: os.Getenv("EVENT_CHANNEL_PREFIX"),

		RobotsFilePath:        getEnv("ROBOTS_TXT_PATH", "/etc/defense/robots.txt"),
		RobotsRefreshInterval: getEnvSeconds("ROBOTS_REFRESH_SECONDS", 300),

		EscalationWorkers:   getEnvInt("ESCALATION_WORKERS", 4),
		EscalationQueueSize: getEnvInt("ESCALATION_QUEUE_SIZE", 1024),

		OverlayPath: os.Getenv("DEFENSE_CONFIG_PATH"),
	}
}

// Validate enforces the startup invariants. A placeholder or empty seed is
// fatal, never degraded.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.SystemSeed) {
	case "":
		return ErrMissingSeed
	case PlaceholderSeed:
		return ErrPlaceholderSeed
	}
	if c.TarpitMinDelay > c.TarpitMaxDelay {
		return fmt.Errorf("TAR_PIT_MIN_DELAY_SEC (%s) exceeds TAR_PIT_MAX_DELAY_SEC (%s)",
			c.TarpitMinDelay, c.TarpitMaxDelay)
	}
	if c.EscalationThreshold < 0 || c.EscalationThreshold > 1 {
		return fmt.Errorf("ESCALATION_THRESHOLD %.3f outside [0,1]", c.EscalationThreshold)
	}
	if c.TarpitMode != "classic" && c.TarpitMode != "labyrinth" {
		return fmt.Errorf("TAR_PIT_MODE %q: want classic or labyrinth", c.TarpitMode)
	}
	return nil
}

// HopEnforcementEnabled reports whether the hop ceiling applies at all.
// Zero or negative values for either knob disable enforcement.
func (c *Config) HopEnforcementEnabled() bool {
	return c.TarpitMaxHops > 0 && c.TarpitHopWindow > 0
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

func getEnvFloat(key string, fallback float64) float64 {
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

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnvSecondsFloat(key string, fallback float64) time.Duration {
	return time.Duration(getEnvFloat(key, fallback) * float64(time.Second))
}
