package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the server's runtime configuration, loaded once at
// startup from the environment (optionally via a .env file).
type Config struct {
	Addr string // HTTP listen address, e.g. ":8080"

	FetcherPath    string // external media-fetcher binary (§6)
	TranscoderPath string // external transcoder binary (ffmpeg-compatible)
	ProbePath      string // external prober binary (ffprobe-compatible)

	LibraryDir   string // root directory holding one subdirectory per track
	SessionsFile string // path to the sessions.json persistence document

	AcceptedHosts []string // URL-acceptance allowlist, §6

	ScheduleLeadMs       int   // play_request lead time, §4.6
	BarrierPollInterval  int   // ms between progressive-ready size checks, §4.4
	BarrierMinBytes      int64 // bytes each channel file must reach, §4.4
	SessionIdleGraceSecs int   // §4.5 GC grace period

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	LogLevel string
	LogFile  string
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// Load reads configuration from the environment, loading a .env file
// first if one is present. Missing values fall back to defaults
// suitable for local development.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables and defaults")
	}

	libraryDir := getEnv("LIBRARY_DIR", "library")
	hostsRaw := getEnv("ACCEPTED_HOSTS", "youtube.com,www.youtube.com,m.youtube.com,youtu.be")

	return &Config{
		Addr: getEnv("ADDR", ":8080"),

		FetcherPath:    getEnv("FETCHER_PATH", "fetcher"),
		TranscoderPath: getEnv("TRANSCODER_PATH", "transcoder"),
		ProbePath:      getEnv("PROBE_PATH", "probe"),

		LibraryDir:   libraryDir,
		SessionsFile: getEnv("SESSIONS_FILE", filepath.Join(libraryDir, "sessions.json")),

		AcceptedHosts: splitAndTrim(hostsRaw),

		ScheduleLeadMs:       getEnvInt("SCHEDULE_LEAD_MS", 500),
		BarrierPollInterval:  getEnvInt("BARRIER_POLL_INTERVAL_MS", 200),
		BarrierMinBytes:      getEnvInt64("BARRIER_MIN_BYTES", 500*1024),
		SessionIdleGraceSecs: getEnvInt("SESSION_IDLE_GRACE_SECS", 60),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
