package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/wbobeirne/run-lnd-store/internal/types"
)

// DefaultChallengeMessage is signed by buyers to prove control of their node.
// Deployments can override it with CHALLENGE_MESSAGE.
const DefaultChallengeMessage = "I run LND"

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Port         string
	DatabasePath string

	// Price of a shirt in satoshis and per-size stock ceilings.
	ShirtCost  int64
	ShirtStock map[types.Size]int

	// Challenge message buyers must sign, and how long issued invoices live.
	ChallengeMessage string
	InvoiceExpiry    time.Duration

	// LND connection. Macaroons and the TLS cert can be passed as hex or as
	// file paths. Invoice and readonly macaroons are separate on purpose:
	// the readonly one can't create invoices and vice versa.
	LNDGRPCURL              string
	LNDInvoiceMacaroon      string
	LNDInvoiceMacaroonPath  string
	LNDReadonlyMacaroon     string
	LNDReadonlyMacaroonPath string
	LNDTLSCert              string
	LNDTLSCertPath          string

	JWTSecret string
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine, values may come from the real environment.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "3000"),
		DatabasePath:            getEnv("DATABASE_PATH", "store.db"),
		ChallengeMessage:        getEnv("CHALLENGE_MESSAGE", DefaultChallengeMessage),
		LNDGRPCURL:              os.Getenv("LND_GRPC_URL"),
		LNDInvoiceMacaroon:      os.Getenv("LND_INVOICE_MACAROON"),
		LNDInvoiceMacaroonPath:  os.Getenv("LND_INVOICE_MACAROON_PATH"),
		LNDReadonlyMacaroon:     os.Getenv("LND_READONLY_MACAROON"),
		LNDReadonlyMacaroonPath: os.Getenv("LND_READONLY_MACAROON_PATH"),
		LNDTLSCert:              os.Getenv("LND_TLS_CERT"),
		LNDTLSCertPath:          os.Getenv("LND_TLS_CERT_PATH"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
	}

	cost, err := getEnvInt64("SHIRT_COST")
	if err != nil {
		return nil, err
	}
	cfg.ShirtCost = cost

	cfg.ShirtStock = make(map[types.Size]int, len(types.Sizes))
	for _, size := range types.Sizes {
		stock, err := getEnvInt("SHIRT_STOCK_" + string(size))
		if err != nil {
			return nil, err
		}
		cfg.ShirtStock[size] = stock
	}

	expireMins, err := getEnvFloat("INVOICE_EXPIRE_MINS")
	if err != nil {
		return nil, err
	}
	cfg.InvoiceExpiry = time.Duration(expireMins * float64(time.Minute))

	if cfg.LNDGRPCURL == "" {
		return nil, fmt.Errorf("LND_GRPC_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string) (int, error) {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0, fmt.Errorf("invalid or missing %s: %w", key, err)
	}
	return v, nil
}

func getEnvInt64(key string) (int64, error) {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid or missing %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string) (float64, error) {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid or missing %s: %w", key, err)
	}
	return v, nil
}
