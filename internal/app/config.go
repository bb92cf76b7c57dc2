package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	MelhorEnvio MelhorEnvioConfig
	MercadoPago MercadoPagoConfig
	ReadModel   ReadModelConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// MelhorEnvioConfig configures the freight carrier client.
type MelhorEnvioConfig struct {
	BaseURL string `default:"" usage:"Melhor Envio API base URL (empty = sandbox)" flag:"melhorenvio-url"`
	Token   string `usage:"Melhor Envio bearer token (STORE_MELHORENVIO_TOKEN)" flag:"melhorenvio-token"`
	Origin  string `usage:"Origin postal code for freight quotes (STORE_MELHORENVIO_ORIGIN)" flag:"melhorenvio-origin"`
	Sender  SenderConfig
}

// SenderConfig is the shop's "from" party stamped on shipping labels.
type SenderConfig struct {
	Name         string `default:"Loja Omena" usage:"Sender name on shipping labels"`
	Phone        string `default:"" usage:"Sender phone"`
	Email        string `default:"" usage:"Sender email"`
	Document     string `default:"" usage:"Sender CPF/CNPJ"`
	Address      string `default:"" usage:"Sender street name"`
	Number       string `default:"" usage:"Sender street number"`
	Neighborhood string `default:"" usage:"Sender neighborhood"`
	City         string `default:"" usage:"Sender city"`
	State        string `default:"" usage:"Sender state abbreviation"`
}

// MercadoPagoConfig configures the payment gateway client.
type MercadoPagoConfig struct {
	BaseURL     string `default:"" usage:"Mercado Pago API base URL (empty = production)" flag:"mercadopago-url"`
	AccessToken string `usage:"Mercado Pago access token (STORE_MERCADOPAGO_ACCESSTOKEN)" flag:"mercadopago-token"`
}

// ReadModelConfig configures the optional storefront read-model push.
type ReadModelConfig struct {
	BaseURL   string `default:"" usage:"Read store base URL (empty disables sync)" flag:"readmodel-url"`
	AuthToken string `default:"" usage:"Read store bearer token" flag:"readmodel-token"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/store/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if cfg.MelhorEnvio.Token == "" {
		return nil, errors.New("Melhor Envio token is required: set STORE_MELHORENVIO_TOKEN")
	}
	if cfg.MelhorEnvio.Origin == "" {
		return nil, errors.New("origin postal code is required: set STORE_MELHORENVIO_ORIGIN")
	}
	if cfg.MercadoPago.AccessToken == "" {
		return nil, errors.New("Mercado Pago access token is required: set STORE_MERCADOPAGO_ACCESSTOKEN")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.MercadoPago.AccessToken == "" {
		if v := os.Getenv("MP_ACCESS_TOKEN"); v != "" {
			c.MercadoPago.AccessToken = v
		}
	}
	if c.MelhorEnvio.Token == "" {
		if v := os.Getenv("MELHOR_ENVIO_TOKEN"); v != "" {
			c.MelhorEnvio.Token = v
		}
	}
	if c.MelhorEnvio.Origin == "" {
		if v := os.Getenv("CEP_ORIGEM"); v != "" {
			c.MelhorEnvio.Origin = v
		}
	}
	sender := &c.MelhorEnvio.Sender
	for _, m := range []struct {
		dst *string
		env string
	}{
		{&sender.Phone, "SENDER_PHONE"},
		{&sender.Email, "SENDER_EMAIL"},
		{&sender.Document, "SENDER_DOCUMENT"},
		{&sender.Address, "SENDER_ADDRESS"},
		{&sender.Number, "SENDER_NUMBER"},
		{&sender.Neighborhood, "SENDER_NEIGHBORHOOD"},
		{&sender.City, "SENDER_CITY"},
		{&sender.State, "SENDER_STATE"},
	} {
		if *m.dst == "" {
			if v := os.Getenv(m.env); v != "" {
				*m.dst = v
			}
		}
	}
	if v := os.Getenv("SENDER_NAME"); v != "" && c.MelhorEnvio.Sender.Name == "Loja Omena" {
		c.MelhorEnvio.Sender.Name = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
