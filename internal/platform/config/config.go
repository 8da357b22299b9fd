package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process-level configuration. FromEnv builds it from
// environment variables so main stays lean; domain parameter structs are
// derived from it during wiring.
type Config struct {
	Addr          string
	JWTSigningKey string

	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig

	// Members seeds the in-process membership registry when no external
	// registry integration is configured.
	Members []string

	Oracle   OracleConfig
	Capacity CapacityConfig
	Window   WindowConfig
	Issuance IssuanceConfig
}

// RedisConfig configures the optional Redis connection used for instant-lane
// daily allowance counters.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit event sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// OracleConfig carries the degradation state machine parameters.
type OracleConfig struct {
	StaleAfter     time.Duration
	DegradedAfter  time.Duration
	EmergencyAfter time.Duration

	StaleHaircutBps     uint32
	DegradedHaircutBps  uint32
	EmergencyHaircutBps uint32

	MaxGrowthBpsPerDay uint32
	BandBps            uint32
	MaxJumpBps         uint32

	Quorum           int
	FeedSigners      []string
	EmergencySigners []string
	Domain           string
	ChainID          uint64

	// ResponseSigningKey is a hex Ed25519 seed; when set, NAV read
	// responses carry a service signature.
	ResponseSigningKey string
}

// CapacityConfig carries the soft-cap damping parameters.
type CapacityConfig struct {
	SlopeBps uint32 // damping slope k, 10000 == 1.0
}

// WindowConfig carries the redemption window parameters.
type WindowConfig struct {
	MinDuration     time.Duration
	SettlementDelay time.Duration
	MaxClaimBatch   int
}

// IssuanceConfig carries the issuance gates.
type IssuanceConfig struct {
	CapTokens       string // WAD decimal string; empty means uncapped
	RequireIntent   bool
	MintSigners     []string
	DailyInstantCap string // capital decimal string per account per day
	BufferCapital   string // capital seeding the in-process instant buffer
	HaltAtEmergency int    // emergency level at which issuance halts
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          envString("FUNDGATE_ADDR", ":8080"),
		JWTSigningKey: envString("FUNDGATE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresDSN:   os.Getenv("FUNDGATE_POSTGRES_DSN"),
		Members:       envList("FUNDGATE_MEMBERS"),
		Redis: RedisConfig{
			URL:          os.Getenv("FUNDGATE_REDIS_URL"),
			PoolSize:     envInt("FUNDGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("FUNDGATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("FUNDGATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("FUNDGATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("FUNDGATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("FUNDGATE_KAFKA_BROKERS"),
			Topic:   envString("FUNDGATE_KAFKA_AUDIT_TOPIC", "fundgate.audit.events"),
		},
		Oracle: OracleConfig{
			StaleAfter:          envDuration("ORACLE_STALE_AFTER", 6*time.Hour),
			DegradedAfter:       envDuration("ORACLE_DEGRADED_AFTER", 24*time.Hour),
			EmergencyAfter:      envDuration("ORACLE_EMERGENCY_AFTER", 72*time.Hour),
			StaleHaircutBps:     envBps("ORACLE_STALE_HAIRCUT_BPS", 25),
			DegradedHaircutBps:  envBps("ORACLE_DEGRADED_HAIRCUT_BPS", 100),
			EmergencyHaircutBps: envBps("ORACLE_EMERGENCY_HAIRCUT_BPS", 300),
			MaxGrowthBpsPerDay:  envBps("ORACLE_MAX_GROWTH_BPS_PER_DAY", 10),
			BandBps:             envBps("ORACLE_BAND_BPS", 200),
			MaxJumpBps:          envBps("ORACLE_MAX_JUMP_BPS", 500),
			Quorum:              envInt("ORACLE_QUORUM", 2),
			FeedSigners:         envList("ORACLE_FEED_SIGNERS"),
			EmergencySigners:    envList("ORACLE_EMERGENCY_SIGNERS"),
			Domain:              envString("ORACLE_DOMAIN", "fundgate"),
			ChainID:             uint64(envInt("FUNDGATE_CHAIN_ID", 1)),
			ResponseSigningKey:  os.Getenv("ORACLE_RESPONSE_SIGNING_KEY"),
		},
		Capacity: CapacityConfig{
			SlopeBps: envBps("CAPACITY_SLOPE_BPS", 10_000),
		},
		Window: WindowConfig{
			MinDuration:     envDuration("WINDOW_MIN_DURATION", 24*time.Hour),
			SettlementDelay: envDuration("WINDOW_SETTLEMENT_DELAY", 24*time.Hour),
			MaxClaimBatch:   envInt("WINDOW_MAX_CLAIM_BATCH", 200),
		},
		Issuance: IssuanceConfig{
			CapTokens:       os.Getenv("ISSUANCE_CAP_TOKENS"),
			RequireIntent:   os.Getenv("ISSUANCE_REQUIRE_INTENT") == "true",
			MintSigners:     envList("ISSUANCE_MINT_SIGNERS"),
			DailyInstantCap: envString("ISSUANCE_DAILY_INSTANT_CAP", "50000000000"), // 50k capital units
			BufferCapital:   envString("ISSUANCE_BUFFER_CAPITAL", "0"),
			HaltAtEmergency: envInt("ISSUANCE_HALT_EMERGENCY_LEVEL", 3),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBps(key string, fallback uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n <= 10_000 {
			return uint32(n)
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
