package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Speech engine (realtime voice provider). The API key stays server-side;
	// clients only ever see minted ephemeral credentials.
	EngineBaseURL string
	EngineAPIKey  string
	EngineModel   string
	EngineVoice   string

	// Reasoning engine (supervisor agent).
	SupervisorBaseURL   string
	SupervisorAPIKey    string
	SupervisorModel     string
	SupervisorMaxTokens int
	SupervisorWorkers   int
	SupervisorTimeout   time.Duration

	// Settled reply when the reasoning engine fails twice for a turn.
	SpokenApology string

	// HMAC secret verifying user identity tokens at session creation.
	IdentitySecret string

	// Session registry.
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	MaxSessionsPerUser   int

	// Bridge channel (ws).
	HelloTimeout      time.Duration
	WSReadTimeout     time.Duration
	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration
	WSMaxMessageBytes int64
	MaxFramesPerSec   int // inbound control-frame rate guard; 0 disables
	OutboundQueueSize int

	// Per-turn budgets.
	MaxToolCallsPerTurn   int
	MaxEngineCallsPerTurn int
	ToolTimeout           time.Duration

	// Retrieval backend. Empty DatabaseURL runs the bridge without retrieval;
	// every turn then gets an empty context bundle.
	DatabaseURL       string
	RetrieverTimeout  time.Duration
	RetrieverCacheTTL time.Duration

	// In-memory limits (per user).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentSessions int

	// TrustProxyHeaders enables client-IP resolution from CF-Connecting-IP,
	// X-Real-IP and X-Forwarded-For. Only enable behind a proxy that strips
	// these headers from client traffic.
	TrustProxyHeaders bool

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("BRIDGE_ADDR", ":8080"),
		EngineBaseURL:              envOr("BRIDGE_ENGINE_BASE_URL", "https://api.openai.com"),
		EngineAPIKey:               envOr("BRIDGE_ENGINE_API_KEY", ""),
		EngineModel:                envOr("BRIDGE_ENGINE_MODEL", "gpt-realtime"),
		EngineVoice:                envOr("BRIDGE_ENGINE_VOICE", "marin"),
		SupervisorBaseURL:          envOr("BRIDGE_SUPERVISOR_BASE_URL", "https://api.anthropic.com"),
		SupervisorAPIKey:           envOr("BRIDGE_SUPERVISOR_API_KEY", ""),
		SupervisorModel:            envOr("BRIDGE_SUPERVISOR_MODEL", "claude-sonnet-4-5"),
		SupervisorMaxTokens:        envIntOr("BRIDGE_SUPERVISOR_MAX_TOKENS", 1024),
		SupervisorWorkers:          envIntOr("BRIDGE_SUPERVISOR_WORKERS", 8),
		SupervisorTimeout:          envDurationOr("BRIDGE_SUPERVISOR_TIMEOUT", 30*time.Second),
		SpokenApology:              envOr("BRIDGE_SPOKEN_APOLOGY", "Sorry, I'm having trouble thinking right now. Give me a moment and ask again."),
		IdentitySecret:             envOr("BRIDGE_IDENTITY_SECRET", ""),
		SessionTTL:                 envDurationOr("BRIDGE_SESSION_TTL", 30*time.Minute),
		SessionSweepInterval:       envDurationOr("BRIDGE_SESSION_SWEEP_INTERVAL", time.Minute),
		MaxSessionsPerUser:         envIntOr("BRIDGE_MAX_SESSIONS_PER_USER", 4),
		HelloTimeout:               envDurationOr("BRIDGE_HELLO_TIMEOUT", 5*time.Second),
		WSReadTimeout:              envDurationOr("BRIDGE_WS_READ_TIMEOUT", time.Minute),
		WSWriteTimeout:             envDurationOr("BRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:             envDurationOr("BRIDGE_WS_PING_INTERVAL", 20*time.Second),
		WSMaxMessageBytes:          envInt64Or("BRIDGE_WS_MAX_MESSAGE_BYTES", 64*1024),
		MaxFramesPerSec:            envIntOr("BRIDGE_MAX_FRAMES_PER_SECOND", 50),
		OutboundQueueSize:          envIntOr("BRIDGE_OUTBOUND_QUEUE_SIZE", 32),
		MaxToolCallsPerTurn:        envIntOr("BRIDGE_MAX_TOOL_CALLS_PER_TURN", 8),
		MaxEngineCallsPerTurn:      envIntOr("BRIDGE_MAX_ENGINE_CALLS_PER_TURN", 4),
		ToolTimeout:                envDurationOr("BRIDGE_TOOL_TIMEOUT", 5*time.Second),
		DatabaseURL:                envOr("BRIDGE_DATABASE_URL", ""),
		RetrieverTimeout:           envDurationOr("BRIDGE_RETRIEVER_TIMEOUT", time.Second),
		RetrieverCacheTTL:          envDurationOr("BRIDGE_RETRIEVER_CACHE_TTL", 30*time.Second),
		LimitRPS:                   envFloat64Or("BRIDGE_RATE_LIMIT_RPS", 1.0),
		LimitBurst:                 envIntOr("BRIDGE_RATE_LIMIT_BURST", 3),
		LimitMaxConcurrentSessions: envIntOr("BRIDGE_MAX_CONCURRENT_SESSIONS", 2),
		TrustProxyHeaders:          envBoolOr("BRIDGE_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:         make(map[string]struct{}),
		ReadHeaderTimeout:          envDurationOr("BRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("BRIDGE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("BRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("BRIDGE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.EngineBaseURL) == "" {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.EngineAPIKey) == "" {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.EngineModel) == "" {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.SupervisorBaseURL) == "" {
		return Config{}, fmt.Errorf("BRIDGE_SUPERVISOR_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.SupervisorAPIKey) == "" {
		return Config{}, fmt.Errorf("BRIDGE_SUPERVISOR_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.SupervisorModel) == "" {
		return Config{}, fmt.Errorf("BRIDGE_SUPERVISOR_MODEL must not be empty")
	}
	if cfg.SupervisorMaxTokens <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SUPERVISOR_MAX_TOKENS must be > 0")
	}
	if cfg.SupervisorWorkers <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SUPERVISOR_WORKERS must be > 0")
	}
	if cfg.SupervisorTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SUPERVISOR_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.SpokenApology) == "" {
		return Config{}, fmt.Errorf("BRIDGE_SPOKEN_APOLOGY must not be empty")
	}
	if strings.TrimSpace(cfg.IdentitySecret) == "" {
		return Config{}, fmt.Errorf("BRIDGE_IDENTITY_SECRET must be set")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SESSION_TTL must be > 0")
	}
	if cfg.SessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SESSION_SWEEP_INTERVAL must be > 0")
	}
	if cfg.MaxSessionsPerUser <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_SESSIONS_PER_USER must be > 0")
	}
	if cfg.HelloTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_HELLO_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_READ_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxFramesPerSec < 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_FRAMES_PER_SECOND must be >= 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_TOOL_CALLS_PER_TURN must be > 0")
	}
	if cfg.MaxEngineCallsPerTurn <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_ENGINE_CALLS_PER_TURN must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.RetrieverTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_RETRIEVER_TIMEOUT must be > 0")
	}
	if cfg.RetrieverCacheTTL < 0 {
		return Config{}, fmt.Errorf("BRIDGE_RETRIEVER_CACHE_TTL must be >= 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("BRIDGE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("BRIDGE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentSessions < 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_CONCURRENT_SESSIONS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
