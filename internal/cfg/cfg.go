package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds             int
	ShutdownBudgetSeconds    int
	APIPort                  int
	DatabaseURL              string
	SlackWebhookURL          string
	APIToken                 string
	PolicyFile               string
	CorrelationWindowMinutes int
	AckTimeoutMinutes        int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token guarding incident lifecycle actions (empty = no auth)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "escalation policy YAML file (empty = built-in single-tier default)")
	fs.IntVar(&c.CorrelationWindowMinutes, "correlation-window-minutes", 30, "how recent an incident's last alert must be for new alerts to attach (1..1440)")
	fs.IntVar(&c.AckTimeoutMinutes, "ack-timeout-minutes", 5, "acknowledgment deadline for the built-in default escalation policy (1..1440)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.CorrelationWindowMinutes <= 0 || c.CorrelationWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid CORRELATION_WINDOW_MINUTES %d (must be 1..1440)", c.CorrelationWindowMinutes))
	}
	if c.AckTimeoutMinutes <= 0 || c.AckTimeoutMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid ACK_TIMEOUT_MINUTES %d (must be 1..1440)", c.AckTimeoutMinutes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
