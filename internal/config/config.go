package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort     string `envconfig:"API_PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Queue
	// ----------------------------
	AMQPURL       string `envconfig:"AMQP_URL" default:""`
	DispatchQueue string `envconfig:"DISPATCH_QUEUE" default:"campaign_dispatch"`

	// ----------------------------
	// Dispatch
	// ----------------------------
	SendInterval      time.Duration `envconfig:"SEND_INTERVAL" default:"500ms"`
	SendTimeout       time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
	SendRetryAttempts int           `envconfig:"SEND_RETRY_ATTEMPTS" default:"0"`
	CancelCheckEvery  int           `envconfig:"CANCEL_CHECK_EVERY" default:"1"`
	AuditBuffer       int           `envconfig:"AUDIT_BUFFER" default:"256"`

	// ----------------------------
	// Scheduler
	// ----------------------------
	SchedulerBatchSize int    `envconfig:"SCHEDULER_BATCH_SIZE" default:"5"`
	SchedulerSpec      string `envconfig:"SCHEDULER_SPEC" default:"@every 1m"`

	// ----------------------------
	// Twilio
	// ----------------------------
	TwilioStatusCallback string `envconfig:"TWILIO_STATUS_CALLBACK" default:""`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
