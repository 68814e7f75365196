// Package config loads service settings from defaults, an optional YAML file
// named by CONFIG_FILE, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/lostfound/internal/descriptorcache"
	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/features"
	"github.com/example/lostfound/internal/matching"
	"github.com/example/lostfound/internal/preprocess"
)

// Descriptor cache backends.
const (
	CacheRedis  = descriptorcache.BackendRedis
	CacheMemory = descriptorcache.BackendMemory
	CacheOff    = descriptorcache.BackendOff
)

// Config holds every runtime setting.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	DatabaseDSN     string        `yaml:"database_dsn"`
	RedisAddr       string        `yaml:"redis_addr"`
	MediaRoot       string        `yaml:"media_root"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`

	DescriptorCache    string        `yaml:"descriptor_cache"`
	DescriptorCacheTTL time.Duration `yaml:"descriptor_cache_ttl"`

	Matching Matching `yaml:"matching"`
}

// Matching holds the pipeline parameters.
type Matching struct {
	MaxDimension        int      `yaml:"max_dimension"`
	MaxKeypoints        int      `yaml:"max_keypoints"`
	MaxSourcePixels     int      `yaml:"max_source_pixels"`
	RatioTest           float64  `yaml:"ratio_test"`
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	AllowedFormats      []string `yaml:"allowed_formats"`
	ScanWorkers         int      `yaml:"scan_workers"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:           ":8080",
		GRPCAddr:           ":9090",
		DatabaseDSN:        "host=postgres user=postgres password=postgres dbname=lostfound port=5432 sslmode=disable",
		RedisAddr:          "redis:6379",
		MediaRoot:          "./media",
		LogLevel:           "info",
		ShutdownTimeout:    15 * time.Second,
		JWTSecret:          "dev-secret",
		DescriptorCache:    CacheRedis,
		DescriptorCacheTTL: 24 * time.Hour,
		Matching: Matching{
			MaxDimension:        engine.DefaultMaxDimension,
			MaxKeypoints:        features.DefaultMaxKeypoints,
			MaxSourcePixels:     50_000_000,
			RatioTest:           matching.DefaultRatio,
			SimilarityThreshold: engine.DefaultThreshold,
			AllowedFormats:      append([]string(nil), preprocess.DefaultFormats...),
			ScanWorkers:         runtime.GOMAXPROCS(0),
		},
	}
}

// Load resolves the configuration from the process environment.
func Load() (Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith resolves the configuration using lookup for environment access.
func LoadWith(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path, ok := lookup("CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	env.string("HTTP_ADDR", &cfg.HTTPAddr)
	env.stringAllowEmpty("GRPC_ADDR", &cfg.GRPCAddr)
	env.string("DATABASE_DSN", &cfg.DatabaseDSN)
	env.string("REDIS_ADDR", &cfg.RedisAddr)
	env.string("MEDIA_ROOT", &cfg.MediaRoot)
	env.string("LOG_LEVEL", &cfg.LogLevel)
	env.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	env.string("JWT_SECRET", &cfg.JWTSecret)
	env.string("JWT_AUDIENCE", &cfg.JWTAudience)
	env.string("DESCRIPTOR_CACHE", &cfg.DescriptorCache)
	env.duration("DESCRIPTOR_CACHE_TTL", &cfg.DescriptorCacheTTL)
	env.int("MAX_DIMENSION", &cfg.Matching.MaxDimension)
	env.int("MAX_KEYPOINTS", &cfg.Matching.MaxKeypoints)
	env.int("MAX_SOURCE_PIXELS", &cfg.Matching.MaxSourcePixels)
	env.float("RATIO_TEST", &cfg.Matching.RatioTest)
	env.float("SIMILARITY_THRESHOLD", &cfg.Matching.SimilarityThreshold)
	env.list("ALLOWED_FORMATS", &cfg.Matching.AllowedFormats)
	env.int("SCAN_WORKERS", &cfg.Matching.ScanWorkers)
	if env.err != nil {
		return Config{}, env.err
	}

	cfg.DescriptorCache = strings.ToLower(strings.TrimSpace(cfg.DescriptorCache))
	cfg.Matching.AllowedFormats = normalizeFormats(cfg.Matching.AllowedFormats)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	m := c.Matching
	if m.MaxDimension <= 0 {
		errs = append(errs, fmt.Errorf("max_dimension must be positive, got %d", m.MaxDimension))
	}
	if m.MaxKeypoints <= 0 {
		errs = append(errs, fmt.Errorf("max_keypoints must be positive, got %d", m.MaxKeypoints))
	}
	if m.MaxSourcePixels < 0 {
		errs = append(errs, fmt.Errorf("max_source_pixels must not be negative, got %d", m.MaxSourcePixels))
	}
	if m.RatioTest <= 0 || m.RatioTest > 1 {
		errs = append(errs, fmt.Errorf("ratio_test must be in (0, 1], got %v", m.RatioTest))
	}
	if m.SimilarityThreshold < 0 || m.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be in [0, 1), got %v", m.SimilarityThreshold))
	}
	if len(m.AllowedFormats) == 0 {
		errs = append(errs, errors.New("allowed_formats must not be empty"))
	}
	for _, f := range m.AllowedFormats {
		if !knownFormat(f) {
			errs = append(errs, fmt.Errorf("allowed_formats: unknown format %q, want one of %s", f, strings.Join(preprocess.DefaultFormats, ", ")))
		}
	}
	if m.ScanWorkers <= 0 {
		errs = append(errs, fmt.Errorf("scan_workers must be positive, got %d", m.ScanWorkers))
	}
	switch c.DescriptorCache {
	case CacheRedis, CacheMemory, CacheOff:
	default:
		errs = append(errs, fmt.Errorf("descriptor_cache must be redis, memory or off, got %q", c.DescriptorCache))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

// Engine converts the matching settings for engine.New.
func (c Config) Engine() engine.Config {
	return engine.Config{
		MaxDimension:    c.Matching.MaxDimension,
		MaxSourcePixels: c.Matching.MaxSourcePixels,
		AllowedFormats:  c.Matching.AllowedFormats,
		Ratio:           c.Matching.RatioTest,
		Threshold:       c.Matching.SimilarityThreshold,
		Workers:         c.Matching.ScanWorkers,
	}
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) value(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) string(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = v
	}
}

// stringAllowEmpty lets an explicitly empty variable clear the setting.
func (r *envReader) stringAllowEmpty(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (r *envReader) int(key string, dst *int) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.ReplaceAll(v, "_", ""))
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = n
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = f
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = d
}

// formatAliases maps file-extension spellings to decoder names.
var formatAliases = map[string]string{"jpg": "jpeg"}

// normalizeFormats lower-cases names, resolves aliases and drops blanks and duplicates.
func normalizeFormats(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if alias, ok := formatAliases[f]; ok {
			f = alias
		}
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func knownFormat(name string) bool {
	for _, f := range preprocess.DefaultFormats {
		if f == name {
			return true
		}
	}
	return false
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.ToLower(item))
		}
	}
	*dst = out
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
