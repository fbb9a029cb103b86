package cost

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config drives the governor. Loaded from COST_* / BUDGET_* env vars.
type Config struct {
	FlushInterval time.Duration `envconfig:"COST_FLUSH_INTERVAL" default:"10s"`
	BatchSize     int           `envconfig:"COST_BATCH_SIZE" default:"50"`

	CacheTTL time.Duration `envconfig:"BUDGET_CACHE_TTL" default:"5m"`
	// GracePct is the band above the hard limit tolerated before denial,
	// absorbing rounding and timing noise at the boundary.
	GracePct float64 `envconfig:"BUDGET_GRACE_PCT" default:"0.10"`
	// FailClosed flips the degraded-path policy from allow to deny.
	FailClosed             bool    `envconfig:"BUDGET_FAIL_CLOSED" default:"false"`
	DefaultMonthlyLimitUSD float64 `envconfig:"BUDGET_DEFAULT_MONTHLY_LIMIT_USD" default:"100"`

	BreakerFailureThreshold  int           `envconfig:"BUDGET_BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerResetTimeout      time.Duration `envconfig:"BUDGET_BREAKER_RESET_TIMEOUT" default:"30s"`
	BreakerHalfOpenSuccesses int           `envconfig:"BUDGET_BREAKER_HALF_OPEN_SUCCESSES" default:"2"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
