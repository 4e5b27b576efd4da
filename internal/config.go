package internal

import (
	"chat-sync/gateway"
	"chat-sync/runtime"
	"fmt"
	"time"
)

// Config is the server configuration, read from the environment by cmd/main.go.
type Config struct {
	HeartbeatInterval       time.Duration `env:"HEARTBEAT_INTERVAL,default=10s"`
	HeartbeatTimeout        time.Duration `env:"HEARTBEAT_TIMEOUT,default=25s"`
	WriteTimeout            time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PresenceGrace           time.Duration `env:"PRESENCE_GRACE,default=3s"`
	PresenceRetention       time.Duration `env:"PRESENCE_RETENTION,default=24h"`
	NotificationGrace       time.Duration `env:"NOTIFICATION_GRACE,default=10s"`
	TypingTTL               time.Duration `env:"TYPING_TTL,default=5s"`
	DeliveryTimeout         time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`
	MetricInterval          time.Duration `env:"METRIC_INTERVAL,default=30s"`
	AuthTokenDuration       time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	PersistMaxAttempts      int           `env:"PERSIST_MAX_ATTEMPTS,default=5"`
	NotificationMaxAttempts int           `env:"NOTIFICATION_MAX_ATTEMPTS,default=3"`
	NotificationWorkers     int           `env:"NOTIFICATION_WORKERS,default=4"`
	NotificationQueueSize   int           `env:"NOTIFICATION_QUEUE_SIZE,default=1024"`
	ConnectionBufferSize    int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	ReconcileLimit          int           `env:"RECONCILE_LIMIT,default=500"`
	MaxTextLength           int           `env:"MAX_TEXT_LENGTH,default=4000"`
	MaxFrameBytes           int64         `env:"MAX_FRAME_BYTES,default=65536"`
	CharReplacement         string        `env:"CHARACTER_REPLACEMENT,default=*"`
	JWTSecret               string        `env:"JWT_SECRET,required=true"`
	BadgerFilepath          string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel                string        `env:"LOG_LEVEL,default=INFO"`
	Host                    string        `env:"HOST,default=localhost"`
	Port                    int           `env:"PORT,default=8080"`
	GrpcPort                int           `env:"GRPC_PORT,default=8081"`
	DeepLinkBase            string        `env:"DEEP_LINK_BASE,default=http://localhost:8080"`
	NotifyWebhookURL        string        `env:"NOTIFY_WEBHOOK_URL"`
	RedisAddr               string        `env:"REDIS_ADDR"`
	RedisPassword           string        `env:"REDIS_PASSWORD"`
	RedisDB                 int           `env:"REDIS_DB,default=0"`
}

// Validate checks the relations between values that struct tags cannot express.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= 2*c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must be greater than twice HEARTBEAT_INTERVAL (%s)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.PersistMaxAttempts < 1 || c.NotificationMaxAttempts < 1 {
		return fmt.Errorf("PERSIST_MAX_ATTEMPTS and NOTIFICATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.NotificationWorkers < 1 {
		return fmt.Errorf("NOTIFICATION_WORKERS must be at least 1, got %d", c.NotificationWorkers)
	}
	if c.ConnectionBufferSize < 1 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be at least 1, got %d", c.ConnectionBufferSize)
	}
	if _, err := CharacterRune(c.CharReplacement); err != nil {
		return err
	}
	return nil
}

func (c Config) Runtime() runtime.Config {
	replacement, _ := CharacterRune(c.CharReplacement)
	return runtime.Config{
		PresenceGrace:           c.PresenceGrace,
		PresenceRetention:       c.PresenceRetention,
		NotificationGrace:       c.NotificationGrace,
		TypingTTL:               c.TypingTTL,
		DeliveryTimeout:         c.DeliveryTimeout,
		HealthInterval:          c.MetricInterval,
		PersistMaxAttempts:      c.PersistMaxAttempts,
		NotificationMaxAttempts: c.NotificationMaxAttempts,
		NotificationWorkers:     c.NotificationWorkers,
		NotificationQueueSize:   c.NotificationQueueSize,
		ConnectionBufferSize:    c.ConnectionBufferSize,
		ReconcileLimit:          c.ReconcileLimit,
		MaxTextLength:           c.MaxTextLength,
		CharReplacement:         replacement,
		DeepLinkBase:            c.DeepLinkBase,
	}
}

func (c Config) Gateway() gateway.Config {
	return gateway.Config{
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		WriteTimeout:      c.WriteTimeout,
		ReadLimit:         c.MaxFrameBytes,
	}
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
