package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	AppPort string

	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	DBMaxOpenConns int
	DBConnTimeout  time.Duration

	JWTSecret string

	PaymentGateway   string
	GatewayTimeout   time.Duration
	CallbackBaseURL  string
	VerifyStaleAfter time.Duration

	ZarinpalMerchantID string
	ZarinpalBaseURL    string

	MellatTerminalID string
	MellatUsername   string
	MellatPassword   string
	MellatBaseURL    string

	KafkaBrokers []string
	KafkaTopic   string
}

var ErrMissingEnv = errors.New("missing required environment variable")

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:  getenv("APP_ENV", "development"),
		AppPort: getenv("APP_PORT", "8080"),

		DBHost:         os.Getenv("DB_HOST"),
		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBName:         os.Getenv("DB_NAME"),
		DBPort:         getenv("DB_PORT", "5432"),
		DBMaxOpenConns: getenvInt("DB_MAX_OPEN_CONNS", 20),
		DBConnTimeout:  getenvDuration("DB_CONN_TIMEOUT", 5*time.Second),

		JWTSecret: os.Getenv("JWT_SECRET"),

		PaymentGateway:   strings.ToLower(getenv("PAYMENT_GATEWAY", "zarinpal")),
		GatewayTimeout:   getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		CallbackBaseURL:  os.Getenv("CALLBACK_BASE_URL"),
		VerifyStaleAfter: getenvDuration("VERIFY_STALE_AFTER", 2*time.Minute),

		ZarinpalMerchantID: os.Getenv("ZARINPAL_MERCHANT_ID"),
		ZarinpalBaseURL:    getenv("ZARINPAL_BASE_URL", "https://api.zarinpal.com"),

		MellatTerminalID: os.Getenv("MELLAT_TERMINAL_ID"),
		MellatUsername:   os.Getenv("MELLAT_USERNAME"),
		MellatPassword:   os.Getenv("MELLAT_PASSWORD"),
		MellatBaseURL:    getenv("MELLAT_BASE_URL", "https://bpm.shaparak.ir/pgwchannel/services/pgw"),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "orders"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	required := map[string]string{
		"DB_HOST":           c.DBHost,
		"DB_NAME":           c.DBName,
		"JWT_SECRET":        c.JWTSecret,
		"CALLBACK_BASE_URL": c.CallbackBaseURL,
	}
	switch c.PaymentGateway {
	case "zarinpal":
		required["ZARINPAL_MERCHANT_ID"] = c.ZarinpalMerchantID
	case "mellat":
		required["MELLAT_TERMINAL_ID"] = c.MellatTerminalID
		required["MELLAT_USERNAME"] = c.MellatUsername
	default:
		return fmt.Errorf("unsupported PAYMENT_GATEWAY %q", c.PaymentGateway)
	}

	var missing []string
	for name, v := range required {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
