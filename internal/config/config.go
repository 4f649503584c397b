// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	Auth     AuthConfig    `yaml:"auth"`
	Codes    CodesConfig   `yaml:"codes"`
	DB       DBConfig      `yaml:"db"`
	Redis    RedisConfig   `yaml:"redis"`
	Mail     MailConfig    `yaml:"mail"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Janitor  JanitorConfig `yaml:"janitor"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
}

// JanitorConfig — фоновая очистка просроченных refresh-токенов и кодов.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"30m"`
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов и хэширования паролей.
//
// SigningSecret — текущий секрет подписи. PreviousSecrets — упорядоченный список
// прежних секретов, которые принимаются только для проверки (ротация без
// массовой инвалидации выданных токенов).
//
// StatelessRefresh отключает журнал refresh-токенов: токен остаётся
// многоразовым до истечения, отзыв возможен только через TokenVersion.
//
// PasswordMinLen задаёт минимальную длину пароля в символах, PasswordStrict
// включает требования к классам символов. По умолчанию достаточно непустого пароля.
type AuthConfig struct {
	SigningSecret    string        `yaml:"signing_secret" env:"SIGNING_SECRET" env-required:"true"`
	PreviousSecrets  []string      `yaml:"previous_secrets" env:"PREVIOUS_SECRETS"`
	AccessTokenTTL   time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL  time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	Issuer           string        `yaml:"issuer" env:"ISSUER" env-default:"auth-service"`
	Audience         []string      `yaml:"audience" env:"AUDIENCE" env-default:"api"`
	StatelessRefresh bool          `yaml:"stateless_refresh" env:"STATELESS_REFRESH"`
	PasswordHasher   string        `yaml:"password_hasher" env:"PASSWORD_HASHER" env-default:"bcrypt"`
	BcryptCost       int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	PasswordMinLen   int           `yaml:"password_min_len" env:"PASSWORD_MIN_LEN" env-default:"1"`
	PasswordStrict   bool          `yaml:"password_strict" env:"PASSWORD_STRICT"`
}

// CodesConfig — параметры одноразовых кодов подтверждения e-mail и сброса пароля.
//
// Retention — сколько хранить код после истечения, чтобы поздняя попытка
// погашения отвечала «код истёк», а не «код неизвестен».
type CodesConfig struct {
	Store      string        `yaml:"store" env:"CODES_STORE" env-default:"postgres"`
	ConfirmTTL time.Duration `yaml:"confirm_ttl" env:"CONFIRM_CODE_TTL" env-default:"24h"`
	ResetTTL   time.Duration `yaml:"reset_ttl" env:"RESET_CODE_TTL" env-default:"1h"`
	Retention  time.Duration `yaml:"retention" env:"CODES_RETENTION" env-default:"168h"`
}

// DBConfig — настройки хранилища пользователей.
// Driver=memory разрешён только для локального запуска и тестов.
type DBConfig struct {
	Driver      string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
}

// RedisConfig — подключение к Redis (хранилище одноразовых кодов при codes.store=redis).
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"auth:otc:"`
}

// MailConfig — отправка писем со ссылками подтверждения и сброса.
type MailConfig struct {
	Sender    string     `yaml:"sender" env:"MAIL_SENDER" env-default:"log"`
	From      string     `yaml:"from" env:"MAIL_FROM" env-default:"no-reply@localhost"`
	BaseURL   string     `yaml:"base_url" env:"MAIL_BASE_URL" env-default:"http://localhost:3000"`
	QueueSize int        `yaml:"queue_size" env:"MAIL_QUEUE_SIZE" env-default:"256"`
	Workers   int        `yaml:"workers" env:"MAIL_WORKERS" env-default:"2"`
	SMTP      SMTPConfig `yaml:"smtp"`
}

// SMTPConfig — параметры SMTP-relay.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

// Addr возвращает адрес SMTP-сервера в формате host:port.
func (s SMTPConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла поверх значений из YAML накладываются ENV-переменные.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %q: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	var (
		loaded *Config
		err    error
	)

	switch {
	// 1) Явный путь.
	case path != "":
		loaded, err = tryRead(path)
	// 2) CONFIG_PATH.
	case os.Getenv("CONFIG_PATH") != "":
		loaded, err = tryRead(os.Getenv("CONFIG_PATH"))
	// 3) ./local.yaml.
	case fileExists("local.yaml"):
		loaded, err = tryRead("local.yaml")
	// 4) Только ENV.
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
		loaded = &cfg
	}

	if err != nil {
		return nil, err
	}

	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return loaded, nil
}

// Validate проверяет согласованность значений, которые cleanenv проверить не может.
func (c *Config) Validate() error {
	switch {
	case c.Auth.AccessTokenTTL <= 0:
		return errors.New("auth.access_token_ttl must be positive")
	case c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL:
		return errors.New("auth.refresh_token_ttl must exceed auth.access_token_ttl")
	case c.Auth.PasswordHasher != "bcrypt" && c.Auth.PasswordHasher != "argon2id":
		return fmt.Errorf("auth.password_hasher: unsupported value %q", c.Auth.PasswordHasher)
	case c.Auth.PasswordMinLen < 0 || c.Auth.PasswordMinLen > 72:
		return errors.New("auth.password_min_len must be within [0, 72]")
	case c.Codes.ConfirmTTL <= 0 || c.Codes.ResetTTL <= 0:
		return errors.New("codes ttl must be positive")
	}

	switch c.DB.Driver {
	case "postgres":
		if c.DB.DatabaseURL == "" {
			return errors.New("db.db_url is required for postgres driver")
		}
	case "memory":
		if c.Codes.Store == "postgres" {
			return errors.New("codes.store=postgres requires db.driver=postgres")
		}
	default:
		return fmt.Errorf("db.driver: unsupported value %q", c.DB.Driver)
	}

	switch c.Codes.Store {
	case "postgres":
	case "memory":
		if c.DB.Driver != "memory" {
			return errors.New("codes.store=memory requires db.driver=memory")
		}
	case "redis":
		if c.Redis.RedisURL == "" {
			return errors.New("redis.redis_url is required for codes.store=redis")
		}
	default:
		return fmt.Errorf("codes.store: unsupported value %q", c.Codes.Store)
	}

	switch c.Mail.Sender {
	case "log":
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return errors.New("mail.smtp.host is required for smtp sender")
		}
	default:
		return fmt.Errorf("mail.sender: unsupported value %q", c.Mail.Sender)
	}

	return nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
