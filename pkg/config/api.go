package config

import "time"

// APIConfig holds runtime configuration for the feed API service.
type APIConfig struct {
	Environment string
	Debug       bool
	Addr        string
	LogLevel    string

	// Database connection settings. Connection is lazy: the process boots
	// and serves monitor endpoints even when the database is unreachable.
	DBHost           string
	DBPort           int
	DBUser           string
	DBPassword       string
	DBName           string
	DBCharset        string
	DBConnectTimeout time.Duration
	DBRetries        int
	DBRetryDelay     time.Duration
	MigrationsDir    string

	// Monitoring surface.
	MonitorUser      string
	MonitorPassword  string
	MonitorPushEvery time.Duration
	StatsResetEvery  time.Duration
	WorkerProcName   string
	WorkerMin        int

	// Rate limiting backend (optional Redis, in-memory otherwise).
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Debug:              GetBool("DEBUG", false),
		Addr:               GetString("API_ADDR", ":8000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		DBHost:             GetString("DB_HOST", "127.0.0.1"),
		DBPort:             GetInt("DB_PORT", 5432),
		DBUser:             GetString("DB_USER", ""),
		DBPassword:         GetString("DB_PASSWORD", ""),
		DBName:             GetString("DB_NAME", ""),
		DBCharset:          GetString("DB_CHARSET", "UTF8"),
		DBConnectTimeout:   time.Duration(GetInt("DB_CONNECT_TIMEOUT_SECONDS", 10)) * time.Second,
		DBRetries:          GetInt("DB_CONNECT_RETRIES", 3),
		DBRetryDelay:       time.Duration(GetInt("DB_RETRY_DELAY_SECONDS", 2)) * time.Second,
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", ""),
		MonitorUser:        GetString("MONITOR_USER", ""),
		MonitorPassword:    GetString("MONITOR_PASSWORD", ""),
		MonitorPushEvery:   time.Duration(GetInt("MONITOR_PUSH_SECONDS", 5)) * time.Second,
		StatsResetEvery:    time.Duration(GetInt("STATS_RESET_HOURS", 3)) * time.Hour,
		WorkerProcName:     GetString("WORKER_PROC_NAME", "feed-api"),
		WorkerMin:          GetInt("WORKER_MIN", 1),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
