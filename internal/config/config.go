// Package config loads application configuration from environment variables.
// The cmd binaries load a .env file first, so a local checkout runs with no
// exported variables.
package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env      string // APP_ENV: dev, test, prod
	Port     string // APP_PORT
	LogLevel string // LOG_LEVEL

	DBUser string // DB_USER
	DBPass string // DB_PASS (empty allowed)
	DBHost string // DB_HOST
	DBPort string // DB_PORT
	DBName string // DB_NAME

	JWTSecret    string // JWT_SECRET
	AccessTTLMin int    // ACCESS_TOKEN_TTL_MIN

	StorageDriver string        // STORAGE_DRIVER: minio or memory
	S3Endpoint    string        // S3_ENDPOINT
	S3AccessKey   string        // S3_ACCESS_KEY
	S3SecretKey   string        // S3_SECRET_KEY
	S3Bucket      string        // S3_BUCKET
	S3UseSSL      bool          // S3_USE_SSL
	SignedURLTTL  time.Duration // SIGNED_URL_TTL

	RabbitURL      string        // RABBITMQ_URL (or AMQP_URL); empty runs jobs in-process
	JobQueue       string        // JOB_QUEUE
	JobMaxAttempts int           // JOB_MAX_ATTEMPTS
	JobBackoff     time.Duration // JOB_BACKOFF

	ParticipantFee int64 // PARTICIPANT_FEE, minor units
	CompanionFee   int64 // COMPANION_FEE, minor units

	ReservationTTL       time.Duration // RESERVATION_TTL
	ReviewTTL            time.Duration // RESERVATION_REVIEW_TTL
	ConfirmTxTimeout     time.Duration // CONFIRM_TX_TIMEOUT
	SpreadsheetTxTimeout time.Duration // SPREADSHEET_TX_TIMEOUT
	SweepSchedule        string        // SWEEP_SCHEDULE
	DraftCleanupSchedule string        // DRAFT_CLEANUP_SCHEDULE
	DraftMaxAge          time.Duration // DRAFT_MAX_AGE
	NotificationLog      string        // NOTIFICATION_LOG
}

// Load reads configuration values from environment variables.  Required
// variables are enforced by must() and a missing value exits the process.
func Load() Config {
	return Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     envStr("APP_PORT", "8080"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 60),

		StorageDriver: envStr("STORAGE_DRIVER", "minio"),
		S3Endpoint:    envStr("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:   os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("S3_SECRET_KEY"),
		S3Bucket:      envStr("S3_BUCKET", "camp-registrations"),
		S3UseSSL:      envBool("S3_USE_SSL", false),
		SignedURLTTL:  envDur("SIGNED_URL_TTL", 15*time.Minute),

		RabbitURL:      envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		JobQueue:       envStr("JOB_QUEUE", "camp.jobs"),
		JobMaxAttempts: envInt("JOB_MAX_ATTEMPTS", 5),
		JobBackoff:     envDur("JOB_BACKOFF", 2*time.Second),

		ParticipantFee: int64(envInt("PARTICIPANT_FEE", 0)),
		CompanionFee:   int64(envInt("COMPANION_FEE", 0)),

		ReservationTTL:       envDur("RESERVATION_TTL", 30*time.Minute),
		ReviewTTL:            envDur("RESERVATION_REVIEW_TTL", 72*time.Hour),
		ConfirmTxTimeout:     envDur("CONFIRM_TX_TIMEOUT", 45*time.Second),
		SpreadsheetTxTimeout: envDur("SPREADSHEET_TX_TIMEOUT", 20*time.Second),
		SweepSchedule:        envStr("SWEEP_SCHEDULE", "@every 5m"),
		DraftCleanupSchedule: envStr("DRAFT_CLEANUP_SCHEDULE", "0 3 * * *"),
		DraftMaxAge:          envDur("DRAFT_MAX_AGE", 7*24*time.Hour),
		NotificationLog:      envStr("NOTIFICATION_LOG", "logs/registrations.log"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the process exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatal().Str("key", key).Msg("missing required env var")
	}
	return v
}
