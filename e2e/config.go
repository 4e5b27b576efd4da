package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// GATEWAY_URL points at a running server, the suite is skipped when empty
	GatewayURL string `envconfig:"GATEWAY_URL"`
	JWTSecret  string `envconfig:"JWT_SECRET"`
	// E2E_DEBUG_JSON dumps every REST response body
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
