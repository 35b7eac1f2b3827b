package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Webhook  WebhookConfig
	Jobs     JobsConfig
	Renewal  RenewalConfig
	Chat     ChatConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string

	// Queue topology for transcript notifications.
	NotificationsQueue string
	DeadLetterExchange string
	DeadLetterQueue    string
	MaxDeliveries      int
	PrefetchCount      int
}

type WebhookConfig struct {
	// ClientState is the shared secret every notification entry must carry.
	ClientState string
	// ResourceType is matched (case-insensitive substring) against each
	// entry's declared resource type.
	ResourceType string
}

type JobsConfig struct {
	BaseURL string
	Token   string
	// JobName is the job definition the dispatcher starts executions of.
	JobName string
	// CancelBaseURL is this service's own public base URL; the dispatcher
	// derives the cancellation-check URL handed to each job from it.
	CancelBaseURL string
}

type RenewalConfig struct {
	// SubscriptionID empty means the renewer is not configured and no-ops.
	SubscriptionID string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	// RenewURL is the subscription collection endpoint; the subscription ID
	// is appended per request.
	RenewURL string
	Interval time.Duration
	ExtendBy time.Duration
}

type ChatConfig struct {
	// WebhookURL empty disables outbound chat notifications.
	WebhookURL string
	Secret     string
}

// Load reads configuration from the environment. Every missing required
// variable is collected so the error names all of them at once.
func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                os.Getenv("RABBITMQ_URL"),
			Host:               get("RABBITMQ_HOST"),
			Port:               get("RABBITMQ_PORT"),
			User:               get("RABBITMQ_USER"),
			Password:           get("RABBITMQ_PASSWORD"),
			VHost:              get("RABBITMQ_VHOST"),
			NotificationsQueue: getDefault("NOTIFICATIONS_QUEUE", "transcript-notifications"),
			DeadLetterExchange: getDefault("NOTIFICATIONS_DLX", "transcript-notifications.dlx"),
			DeadLetterQueue:    getDefault("NOTIFICATIONS_DLQ", "transcript-notifications.dead"),
			MaxDeliveries:      getInt("NOTIFICATIONS_MAX_DELIVERIES", 5),
			PrefetchCount:      getInt("NOTIFICATIONS_PREFETCH", 8),
		},
		Webhook: WebhookConfig{
			ClientState:  get("WEBHOOK_CLIENT_STATE"),
			ResourceType: getDefault("WEBHOOK_RESOURCE_TYPE", "callTranscript"),
		},
		Jobs: JobsConfig{
			BaseURL:       get("JOBS_API_BASE_URL"),
			Token:         get("JOBS_API_TOKEN"),
			JobName:       get("JOBS_JOB_NAME"),
			CancelBaseURL: os.Getenv("CANCEL_BASE_URL"),
		},
		Renewal: RenewalConfig{
			SubscriptionID: os.Getenv("SUBSCRIPTION_ID"),
			TokenURL:       os.Getenv("SUBSCRIPTION_TOKEN_URL"),
			ClientID:       os.Getenv("SUBSCRIPTION_CLIENT_ID"),
			ClientSecret:   os.Getenv("SUBSCRIPTION_CLIENT_SECRET"),
			RenewURL:       os.Getenv("SUBSCRIPTION_RENEW_URL"),
			Interval:       getDuration("SUBSCRIPTION_RENEW_INTERVAL", 12*time.Hour),
			ExtendBy:       getDuration("SUBSCRIPTION_EXTEND_BY", 48*time.Hour),
		},
		Chat: ChatConfig{
			WebhookURL: os.Getenv("CHAT_WEBHOOK_URL"),
			Secret:     os.Getenv("CHAT_WEBHOOK_SECRET"),
		},
	}

	// The token credentials are only required once a subscription is
	// actually configured.
	if config.Renewal.SubscriptionID != "" {
		if config.Renewal.TokenURL == "" {
			missing = append(missing, "SUBSCRIPTION_TOKEN_URL")
		}
		if config.Renewal.ClientID == "" {
			missing = append(missing, "SUBSCRIPTION_CLIENT_ID")
		}
		if config.Renewal.ClientSecret == "" {
			missing = append(missing, "SUBSCRIPTION_CLIENT_SECRET")
		}
		if config.Renewal.RenewURL == "" {
			missing = append(missing, "SUBSCRIPTION_RENEW_URL")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func getDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// ConnectionString returns a DSN string for GORM.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrateURL returns a postgres:// URL for golang-migrate.
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
