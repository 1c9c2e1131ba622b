package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	TokenTTL           time.Duration
	BcryptCost         int
	DefaultPageSize    int
	MaxPageSize        int
	LogLevel           string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://userdesk:userdesk@db:5432/userdesk?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		TokenTTL:           time.Duration(GetInt("TOKEN_TTL_MIN", 60)) * time.Minute,
		BcryptCost:         GetInt("BCRYPT_COST", 0),
		DefaultPageSize:    GetInt("DEFAULT_PAGE_SIZE", 10),
		MaxPageSize:        GetInt("MAX_PAGE_SIZE", 100),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
