package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the bridge's startup settings. Everything comes from the
// environment; the broker URL is the one required secret, the rest have
// working defaults.
type Config struct {
	// BrokerURL is the connection credential for the delivery
	// transport. Required, and treated as opaque.
	BrokerURL string `env:"BRIDGEMQ_BROKER_URL,required"`

	// IngressSocket is the datagram socket local clients submit
	// messages to.
	IngressSocket string `env:"BRIDGEMQ_INGRESS_SOCKET" envDefault:"/run/bridgemq/ingress.sock"`

	// ServiceDir holds the per-service sockets inbound messages are
	// routed to.
	ServiceDir string `env:"BRIDGEMQ_SERVICE_DIR" envDefault:"/run/bridgemq/services"`

	// BodyDir holds the per-sender FIFOs bodies arrive on.
	BodyDir string `env:"BRIDGEMQ_BODY_DIR" envDefault:"/tmp"`

	// MaxBodySize bounds one message body. Larger bodies are
	// truncated at the negotiated maximum.
	MaxBodySize int `env:"BRIDGEMQ_MAX_BODY_SIZE" envDefault:"262144"`

	// MaxIngressSize bounds one raw ingress message (preamble, sender
	// id and header text).
	MaxIngressSize int `env:"BRIDGEMQ_MAX_INGRESS_SIZE" envDefault:"8192"`

	// FetchTimeout bounds the wait for a sender's body channel.
	FetchTimeout time.Duration `env:"BRIDGEMQ_FETCH_TIMEOUT" envDefault:"5s"`

	// Exchange and RoutingKey address outbound envelopes on the broker.
	Exchange   string `env:"BRIDGEMQ_EXCHANGE" envDefault:""`
	RoutingKey string `env:"BRIDGEMQ_ROUTING_KEY" envDefault:"bridgemq.outbound"`

	// InboundQueue is the broker queue inbound messages arrive on.
	InboundQueue string `env:"BRIDGEMQ_INBOUND_QUEUE" envDefault:"bridgemq.inbound"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.MaxBodySize <= 0 {
		return nil, fmt.Errorf("BRIDGEMQ_MAX_BODY_SIZE must be positive, got %d", cfg.MaxBodySize)
	}
	if cfg.MaxIngressSize <= 0 {
		return nil, fmt.Errorf("BRIDGEMQ_MAX_INGRESS_SIZE must be positive, got %d", cfg.MaxIngressSize)
	}
	return cfg, nil
}
