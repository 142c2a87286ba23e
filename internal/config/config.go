package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration, sourced from environment
// variables with sane local-dev defaults.
type Config struct {
	Env string

	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	JWTPrivateKeyPEM string
	JWTPublicKeyPEM  string
	JWTKeyID         string
	JWTIssuer        string
	JWTAudience      string

	AESMasterKeyHex string

	SentryDSN string

	ArgonMemoryKiB  uint32
	ArgonIterations uint32
	ArgonParallel   uint8

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	RememberTTL     time.Duration

	TOTPIssuer string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Env:              getEnv("APP_ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          getEnvAsInt("REDIS_DB", 0),
		JWTPrivateKeyPEM: os.Getenv("JWT_PRIVATE_KEY"),
		JWTPublicKeyPEM:  os.Getenv("JWT_PUBLIC_KEY"),
		JWTKeyID:         getEnv("JWT_KEY_ID", "sig-1"),
		JWTIssuer:        getEnv("JWT_ISSUER", "https://aim.lavente.care"),
		JWTAudience:      getEnv("JWT_AUDIENCE", "aim-core"),
		AESMasterKeyHex:  os.Getenv("AES_MASTER_KEY"),
		SentryDSN:        os.Getenv("SENTRY_DSN"),
		ArgonMemoryKiB:   uint32(getEnvAsInt("ARGON_MEMORY_KIB", 64*1024)),
		ArgonIterations:  uint32(getEnvAsInt("ARGON_ITERATIONS", 3)),
		ArgonParallel:    uint8(getEnvAsInt("ARGON_PARALLELISM", 4)),
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		RememberTTL:      30 * 24 * time.Hour,
		TOTPIssuer:       getEnv("TOTP_ISSUER", "LaventeCare"),
	}
}

func (c Config) IsProduction() bool { return c.Env == "production" }

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
