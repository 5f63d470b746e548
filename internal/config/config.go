package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port            string
	LogLevel        string
	LogFormat       string
	LogSource       bool
	ShutdownTimeout time.Duration
	CORSOrigins     string

	WorkDir           string
	MaxJobs           int
	QueueTimeout      time.Duration
	MaxSlides         int
	EncodeConcurrency int
	EncodeTimeout     time.Duration
	ConcatTimeout     time.Duration
	FetchTimeout      time.Duration
	FetchMaxBytes     int64

	FFmpegCommand string
	OverlayFont   string

	RedisAddr     string
	AssetCacheTTL time.Duration
	DatabaseURL   string
}

// Load reads every key, applying defaults for unset values. A set but
// malformed value is an error rather than a silent default.
func Load() (Config, error) {
	var errs []string
	l := loader{errs: &errs}

	cfg := Config{
		Port:            Env("PORT", "8080"),
		LogLevel:        Env("LOG_LEVEL", "info"),
		LogFormat:       Env("LOG_FORMAT", "json"),
		LogSource:       BoolEnv("LOG_SOURCE", false),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		CORSOrigins:     Env("CORS_ALLOWED_ORIGINS", ""),

		WorkDir:           Env("RENDER_WORK_DIR", os.TempDir()),
		MaxJobs:           l.positiveInt("RENDER_MAX_JOBS", defaultMaxJobs()),
		QueueTimeout:      l.duration("RENDER_QUEUE_TIMEOUT", 30*time.Second),
		MaxSlides:         l.positiveInt("RENDER_MAX_SLIDES", 200),
		EncodeConcurrency: l.positiveInt("ENCODE_CONCURRENCY", 1),
		EncodeTimeout:     l.duration("ENCODE_TIMEOUT", 5*time.Minute),
		ConcatTimeout:     l.duration("CONCAT_TIMEOUT", 10*time.Minute),
		FetchTimeout:      l.duration("FETCH_TIMEOUT", 30*time.Second),
		FetchMaxBytes:     l.bytes("FETCH_MAX_BYTES", 25<<20),

		FFmpegCommand: Env("FFMPEG_COMMAND", "ffmpeg"),
		OverlayFont:   Env("OVERLAY_FONT", "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"),

		RedisAddr:     Env("REDIS_ADDR", ""),
		AssetCacheTTL: l.duration("ASSET_CACHE_TTL", time.Hour),
		DatabaseURL:   Env("DATABASE_URL", ""),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Env gets an environment variable with a default value.
func Env(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

// BoolEnv reads an env var as bool. If empty or invalid, returns def.
func BoolEnv(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type loader struct {
	errs *[]string
}

func (l loader) fail(k, v string, err error) {
	*l.errs = append(*l.errs, fmt.Sprintf("%s=%q: %v", k, v, err))
}

func (l loader) positiveInt(k string, def int) int {
	v := Env(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err == nil && n <= 0 {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		l.fail(k, v, err)
		return def
	}
	return n
}

func (l loader) duration(k string, def time.Duration) time.Duration {
	v := Env(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err == nil && d <= 0 {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		l.fail(k, v, err)
		return def
	}
	return d
}

// bytes accepts plain integers or humanized sizes such as "25MiB".
func (l loader) bytes(k string, def int64) int64 {
	v := Env(k, "")
	if v == "" {
		return def
	}
	n, err := humanize.ParseBytes(v)
	if err == nil && n == 0 {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		l.fail(k, v, err)
		return def
	}
	return int64(n)
}

func defaultMaxJobs() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	return n
}
