package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds the application settings.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	JWTSecret  string

	// Proposals above this amount require a recorded human approval
	// decision before the approved transition can complete.
	ApprovalThreshold decimal.Decimal
	// Margin added to the Selic reference rate when a creation request
	// omits a nominal rate, in percentage points.
	RateMarginPercent decimal.Decimal
	// Fallback nominal annual rate used when the BCB service is
	// unreachable, in percent.
	DefaultAnnualRate decimal.Decimal

	LimitServiceURL    string
	ApprovalServiceURL string
}

// LoadConfig loads the configuration from the environment, with a .env file
// when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn(".env file not found")
	}

	config := &Config{
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", "postgres"),
		DBName:             getEnv("DB_NAME", "financing"),
		JWTSecret:          getEnv("JWT_SECRET", "default-secret-key"),
		ApprovalThreshold:  getEnvDecimal("APPROVAL_THRESHOLD", "50000"),
		RateMarginPercent:  getEnvDecimal("RATE_MARGIN_PERCENT", "5"),
		DefaultAnnualRate:  getEnvDecimal("DEFAULT_ANNUAL_RATE", "18.9"),
		LimitServiceURL:    getEnv("LIMIT_SERVICE_URL", "http://localhost:8081"),
		ApprovalServiceURL: getEnv("APPROVAL_SERVICE_URL", "http://localhost:8082"),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	raw := getEnv(key, defaultValue)
	value, err := decimal.NewFromString(raw)
	if err != nil {
		logrus.Warnf("Invalid decimal value %q for %s, using default %s", raw, key, defaultValue)
		value, _ = decimal.NewFromString(defaultValue)
	}
	return value
}
