package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort        string
	AppMode        string
	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	JWTSecret      string
	JWTExpiryMin   int
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	STUNServers    []string
	RingTimeoutSec int
	SignalTTLSec   int
	SelfUserID     string
	SelfUserName   string
	SelfUserAvatar string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:        getEnv("APP_PORT", "8080"),
		AppMode:        getEnv("APP_MODE", "debug"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "peercall"),
		DBPort:         getEnv("DB_PORT", "5432"),
		JWTSecret:      getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin:   getEnvAsInt("JWT_EXPIRY_MIN", 15),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		STUNServers:    getEnvAsList("STUN_SERVERS", "stun:stun.l.google.com:19302"),
		RingTimeoutSec: getEnvAsInt("RING_TIMEOUT_SEC", 60),
		SignalTTLSec:   getEnvAsInt("SIGNAL_TTL_SEC", 300),
		SelfUserID:     getEnv("SELF_USER_ID", ""),
		SelfUserName:   getEnv("SELF_USER_NAME", ""),
		SelfUserAvatar: getEnv("SELF_USER_AVATAR", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
