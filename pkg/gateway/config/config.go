package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type UpstreamKind string

const (
	UpstreamOpenAI UpstreamKind = "openai"
	UpstreamGemini UpstreamKind = "gemini"
	UpstreamMock   UpstreamKind = "mock"
)

type TurnPolicy string

const (
	TurnPolicyServer TurnPolicy = "server"
	TurnPolicyLocal  TurnPolicy = "local"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like
	// X-Forwarded-For. Enable only behind a trusted proxy or LB.
	TrustProxyHeaders bool

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Upstream endpoint selection.
	Upstream     UpstreamKind
	TestMode     bool
	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIWSURL  string
	GeminiAPIKey string
	GeminiModel  string
	Voice        string
	Greeting     bool

	// Turn taking.
	TurnPolicy         TurnPolicy
	VADThreshold       float64
	VADSilenceFrames   int
	VADCooldown        time.Duration
	ServerVADThreshold float64
	ServerVADSilence   time.Duration
	ServerVADPrefix    time.Duration

	// Per-call websocket behavior.
	WSPingInterval         time.Duration
	WSWriteTimeout         time.Duration
	UpstreamConnectTimeout time.Duration

	// Per-principal limits. Initiate covers outbound dialing, which is
	// costlier than opening a media stream.
	LimitSessionsPerMinute  int
	LimitInitiatePerMinute  int
	LimitBurst              int
	LimitTTL                time.Duration
	MaxSessionsPerPrincipal int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// Persistence; empty runs the in-memory registry.
	DatabaseURL string

	// Telephony call control and webhook validation.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	PublicHost       string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VB_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("VB_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                 make(map[string]struct{}),
		TrustProxyHeaders:       envBoolOr("VB_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:      make(map[string]struct{}),
		Upstream:                UpstreamKind(envOr("VB_UPSTREAM", string(UpstreamOpenAI))),
		TestMode:                envBoolOr("VB_TEST_MODE", false),
		OpenAIAPIKey:            strings.TrimSpace(os.Getenv("VB_OPENAI_API_KEY")),
		OpenAIModel:             envOr("VB_OPENAI_MODEL", "gpt-realtime"),
		OpenAIWSURL:             envOr("VB_OPENAI_WS_URL", "wss://api.openai.com/v1/realtime"),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("VB_GEMINI_API_KEY")),
		GeminiModel:             envOr("VB_GEMINI_MODEL", "gemini-2.0-flash-live-001"),
		Voice:                   envOr("VB_VOICE", "alloy"),
		Greeting:                envBoolOr("VB_GREETING", true),
		TurnPolicy:              TurnPolicy(envOr("VB_TURN_POLICY", string(TurnPolicyServer))),
		VADThreshold:            envFloat64Or("VB_VAD_THRESHOLD", 150),
		VADSilenceFrames:        envIntOr("VB_VAD_SILENCE_FRAMES", 55),
		VADCooldown:             envDurationOr("VB_VAD_COOLDOWN", 2*time.Second),
		ServerVADThreshold:      envFloat64Or("VB_SERVER_VAD_THRESHOLD", 0.5),
		ServerVADSilence:        envDurationOr("VB_SERVER_VAD_SILENCE", 700*time.Millisecond),
		ServerVADPrefix:         envDurationOr("VB_SERVER_VAD_PREFIX", 300*time.Millisecond),
		WSPingInterval:          envDurationOr("VB_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:          envDurationOr("VB_WS_WRITE_TIMEOUT", 5*time.Second),
		UpstreamConnectTimeout:  envDurationOr("VB_UPSTREAM_CONNECT_TIMEOUT", 15*time.Second),
		LimitSessionsPerMinute:  envIntOr("VB_RATE_LIMIT_SESSIONS_PER_MIN", 30),
		LimitInitiatePerMinute:  envIntOr("VB_RATE_LIMIT_INITIATE_PER_MIN", 10),
		LimitBurst:              envIntOr("VB_RATE_LIMIT_BURST", 5),
		LimitTTL:                envDurationOr("VB_RATE_LIMIT_TTL", 10*time.Minute),
		MaxSessionsPerPrincipal: envIntOr("VB_MAX_SESSIONS_PER_PRINCIPAL", 2),
		ReadHeaderTimeout:       envDurationOr("VB_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("VB_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		DatabaseURL:             strings.TrimSpace(os.Getenv("VB_DATABASE_URL")),
		TwilioAccountSID:        strings.TrimSpace(os.Getenv("VB_TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:         strings.TrimSpace(os.Getenv("VB_TWILIO_AUTH_TOKEN")),
		TwilioFromNumber:        strings.TrimSpace(os.Getenv("VB_TWILIO_FROM_NUMBER")),
		PublicHost:              strings.TrimSpace(os.Getenv("VB_PUBLIC_HOST")),
	}

	if cfg.TestMode {
		cfg.Upstream = UpstreamMock
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VB_AUTH_MODE must be one of required|optional|disabled")
	}

	switch cfg.Upstream {
	case UpstreamOpenAI, UpstreamGemini, UpstreamMock:
	default:
		return Config{}, fmt.Errorf("VB_UPSTREAM must be one of openai|gemini|mock")
	}

	switch cfg.TurnPolicy {
	case TurnPolicyServer, TurnPolicyLocal:
	default:
		return Config{}, fmt.Errorf("VB_TURN_POLICY must be one of server|local")
	}

	for _, key := range splitCSV(os.Getenv("VB_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VB_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VB_API_KEYS must be set when VB_AUTH_MODE=required")
	}
	if cfg.Upstream == UpstreamOpenAI && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("VB_OPENAI_API_KEY must be set when VB_UPSTREAM=openai")
	}
	if cfg.Upstream == UpstreamGemini && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("VB_GEMINI_API_KEY must be set when VB_UPSTREAM=gemini")
	}

	if cfg.VADThreshold <= 0 {
		return Config{}, fmt.Errorf("VB_VAD_THRESHOLD must be > 0")
	}
	if cfg.VADSilenceFrames <= 0 {
		return Config{}, fmt.Errorf("VB_VAD_SILENCE_FRAMES must be > 0")
	}
	if cfg.VADCooldown <= 0 {
		return Config{}, fmt.Errorf("VB_VAD_COOLDOWN must be > 0")
	}
	if cfg.ServerVADThreshold <= 0 || cfg.ServerVADThreshold > 1 {
		return Config{}, fmt.Errorf("VB_SERVER_VAD_THRESHOLD must be in (0, 1]")
	}
	if cfg.ServerVADSilence <= 0 {
		return Config{}, fmt.Errorf("VB_SERVER_VAD_SILENCE must be > 0")
	}
	if cfg.ServerVADPrefix < 0 {
		return Config{}, fmt.Errorf("VB_SERVER_VAD_PREFIX must be >= 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VB_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VB_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VB_UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.LimitSessionsPerMinute <= 0 {
		return Config{}, fmt.Errorf("VB_RATE_LIMIT_SESSIONS_PER_MIN must be > 0")
	}
	if cfg.LimitInitiatePerMinute <= 0 {
		return Config{}, fmt.Errorf("VB_RATE_LIMIT_INITIATE_PER_MIN must be > 0")
	}
	if cfg.LimitBurst <= 0 {
		return Config{}, fmt.Errorf("VB_RATE_LIMIT_BURST must be > 0")
	}
	if cfg.LimitTTL <= 0 {
		return Config{}, fmt.Errorf("VB_RATE_LIMIT_TTL must be > 0")
	}
	if cfg.MaxSessionsPerPrincipal <= 0 {
		return Config{}, fmt.Errorf("VB_MAX_SESSIONS_PER_PRINCIPAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VB_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VB_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	haveTwilio := cfg.TwilioAccountSID != "" || cfg.TwilioAuthToken != "" || cfg.TwilioFromNumber != ""
	if haveTwilio {
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return Config{}, fmt.Errorf("VB_TWILIO_ACCOUNT_SID, VB_TWILIO_AUTH_TOKEN and VB_TWILIO_FROM_NUMBER must all be set together")
		}
		if cfg.PublicHost == "" {
			return Config{}, fmt.Errorf("VB_PUBLIC_HOST must be set when telephony call control is configured")
		}
	}

	return cfg, nil
}

// CallControlEnabled reports whether outbound dialing is configured.
func (c Config) CallControlEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
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
