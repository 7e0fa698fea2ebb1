package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuracion del servicio.
type Config struct {
	HTTPPort             string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required"`
	AssistantBaseURL     string `env:"ASSISTANT_BASE_URL,required"`
	AssistantAPIKey      string `env:"ASSISTANT_API_KEY"`
	DefaultLanguage      string `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	ExportDir            string `env:"EXPORT_DIR" envDefault:"exports"`
	ExportEmailTo        string `env:"EXPORT_EMAIL_TO"`
	SMTPHost             string `env:"SMTP_HOST"`
	SMTPPort             int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser             string `env:"SMTP_USER"`
	SMTPPass             string `env:"SMTP_PASS"`
	SMTPFrom             string `env:"SMTP_FROM"`
	SMTPFromName         string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS           bool   `env:"SMTP_USE_TLS" envDefault:"false"`
	RedisAddr            string `env:"REDIS_ADDR"`
	RedisPassword        string `env:"REDIS_PASSWORD"`
	RedisDB              int    `env:"REDIS_DB" envDefault:"0"`
	JWTSecret            string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`
	AccessKeyHash        string `env:"ACCESS_KEY_HASH"`
	SendRateWindowSec    int    `env:"SEND_RATE_WINDOW_SECONDS" envDefault:"60"`
	SendRateMax          int    `env:"SEND_RATE_MAX" envDefault:"30"`
}

// LoadConfig carga la configuracion desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
