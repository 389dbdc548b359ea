package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration, read from TM_* environment
// variables.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	LongTermPath string
	WorkingTTL   time.Duration
	ShortTermTTL time.Duration
	LongTermTTL  time.Duration

	SweepInterval time.Duration
	RecordTimeout time.Duration
	DecayRate     float64
	ArchiveFloor  float64

	EscalationWeight float64

	PredictTimeout  time.Duration
	PredictCacheTTL time.Duration
	OrgIndustries   []string
	PastIncidents   []string
}

// LoadConfig reads environment variables and returns a Config
func LoadConfig() *Config {
	return &Config{
		HTTPAddr:    getEnv("TM_HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("TM_METRICS_ADDR", ":9090"),

		LongTermPath: getEnv("TM_LONG_TERM_DB", "threatmem.db"),
		WorkingTTL:   getEnvDuration("TM_WORKING_TTL", time.Hour),
		ShortTermTTL: getEnvDuration("TM_SHORT_TERM_TTL", 7*24*time.Hour),
		LongTermTTL:  getEnvDuration("TM_LONG_TERM_TTL", 90*24*time.Hour),

		SweepInterval: getEnvDuration("TM_SWEEP_INTERVAL", time.Minute),
		RecordTimeout: getEnvDuration("TM_RECORD_TIMEOUT", 2*time.Second),
		DecayRate:     getEnvFloat("TM_DECAY_RATE", 0.01),
		ArchiveFloor:  getEnvFloat("TM_ARCHIVE_FLOOR", 0.3),

		EscalationWeight: getEnvFloat("TM_ESCALATION_WEIGHT", 3),

		PredictTimeout:  getEnvDuration("TM_PREDICT_TIMEOUT", 5*time.Second),
		PredictCacheTTL: getEnvDuration("TM_PREDICT_CACHE_TTL", 30*time.Second),
		OrgIndustries:   getEnvList("TM_ORG_INDUSTRIES"),
		PastIncidents:   getEnvList("TM_PAST_INCIDENT_INDUSTRIES"),
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvList(k string) []string {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
