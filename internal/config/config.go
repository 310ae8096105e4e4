// Package config centralizes the settlement core's tunables. Modeled on
// Klingon-tech-klingdex's internal/config (a single typed file holding every
// timeout/limit constant) combined with OSPay's main.go style of reading
// deployment knobs from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Business constants from spec.md §3/§6. Treated as fixed policy, not
// runtime-tunable, per the design note in §9 that expires_at is
// authoritative and per-status interval helpers are legacy/unused.
const (
	// InitialExpiry is the deadline set at order creation (created_at + 15m).
	InitialExpiry = 15 * time.Minute
	// EscrowExpiry is the deadline reset applied when an order enters
	// escrow (escrowed_at + 120m).
	EscrowExpiry = 120 * time.Minute
	// MaxExtensions caps the extension protocol at 3 per order.
	MaxExtensions = 3

	// OutboxMaxAttempts is the default max_attempts for an outbox row.
	OutboxMaxAttempts = 5
	// OutboxBackoffBase is the base of the drainer's exponential backoff.
	OutboxBackoffBase = 10 * time.Second
	// OutboxBackoffCap caps the backoff delay.
	OutboxBackoffCap = 5 * time.Minute
	// OutboxStuckAge flags pending/failed rows older than this for
	// monitoring (§4.7 stuck-outbox query).
	OutboxStuckAge = 5 * time.Minute

	// TxBudget bounds the order-creation transaction's wall clock (§5); it
	// is applied by the create-order handler only, not to the finalization
	// commands or the expiry sweep.
	TxBudget = 5 * time.Second
	// DeliveryTimeout bounds a single outbox delivery attempt (§5).
	DeliveryTimeout = 10 * time.Second

	// ExpiryWorkerInterval is how often C9 sweeps for past-deadline orders.
	ExpiryWorkerInterval = 30 * time.Second
	// OutboxDrainInterval is how often the drainer claims a new batch.
	OutboxDrainInterval = 5 * time.Second
	// OutboxDrainBatchSize is how many rows a single drain pass claims.
	OutboxDrainBatchSize = 50
)

// Config holds the environment-derived, deployment-specific settings.
type Config struct {
	// MockMode enables in-book balance debits/credits instead of calling
	// out to chain adapters for escrow lock/release.
	MockMode bool
	// DSN is the SQLite data source name for the order/ledger database.
	DSN string
	// ListenAddr is the HTTP listen address for internal/httpapi.
	ListenAddr string
	// CoreAPIURL is informational, used by layered deployments that call
	// back into this core; not dialed by this process itself.
	CoreAPIURL string
	// CoreAPISecret authenticates internal callers via a bearer header.
	CoreAPISecret string
	// LogLevel is passed straight to internal/obs.
	LogLevel string
}

// FromEnv loads Config from the process environment, applying the same
// defaults OSPay's main.go hardcodes inline (SQLite DSN, :8080).
func FromEnv() Config {
	return Config{
		MockMode:      parseBool(os.Getenv("MOCK_MODE"), true),
		DSN:           envOr("CORE_DB_DSN", "file:ospaycore.db?_pragma=busy_timeout=5000"),
		ListenAddr:    envOr("CORE_LISTEN_ADDR", ":8080"),
		CoreAPIURL:    os.Getenv("CORE_API_URL"),
		CoreAPISecret: os.Getenv("CORE_API_SECRET"),
		LogLevel:      envOr("CORE_LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBool(s string, fallback bool) bool {
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}
