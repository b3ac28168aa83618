package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации пайплайна.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Engine     EngineConfig     `mapstructure:"engine"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Patterns   PatternsConfig   `mapstructure:"patterns"`
	Perception PerceptionConfig `mapstructure:"perception"`
	Actors     []ActorConfig    `mapstructure:"actors"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// Отдельный listener для /metrics; пусто — /metrics на основном роутере
	MetricsAddr string `mapstructure:"metrics_addr"`
	// gRPC сервис пайплайна; пусто — не поднимается
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL (зеркало журнала исполнения).
// Пустой URL отключает зеркалирование.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (хранилище паттернов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — ключ для проверки RS256 токенов API. Без ключа API работает без авторизации.
type AuthConfig struct {
	PublicKeyPath string        `mapstructure:"public_key_path"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
	PublicKey     []byte
}

// EngineConfig содержит настройки диспетчера и коннекторов.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// 0 — подтверждения живут бессрочно
	ConfirmationTTL time.Duration `mapstructure:"confirmation_ttl"`

	// Настройки Circuit Breaker для внешних коннекторов
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`

	// Адрес удаленного сервиса коннекторов (gRPC). Пусто — mock.
	ConnectorAddr string `mapstructure:"connector_addr"`
}

// LLMConfig — OpenAI-совместимый chat completions endpoint.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PatternsConfig выбирает бэкенд хранения счетчиков паттернов.
type PatternsConfig struct {
	Backend    string `mapstructure:"backend"` // sqlite, redis, memory
	SQLitePath string `mapstructure:"sqlite_path"`
	Key        string `mapstructure:"key"`
}

type PerceptionConfig struct {
	MemoryLimit int `mapstructure:"memory_limit"`
}

// ActorConfig — статическое описание персоны.
type ActorConfig struct {
	ID                string   `mapstructure:"id"`
	Name              string   `mapstructure:"name"`
	EnabledConnectors []string `mapstructure:"enabled_connectors"`
	Capabilities      []string `mapstructure:"capabilities"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path — явный путь к файлу (флаг --config), пустой — поиск по умолчанию.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// LLM_API_KEY=... перекроет llm.api_key
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.grpc_addr", ":50052")
	// Ключи без значения по умолчанию тоже регистрируются: иначе AutomaticEnv
	// не подхватит их при Unmarshal
	for _, key := range []string{
		"database.url",
		"redis.password",
		"auth.public_key_path",
		"auth.issuer",
		"engine.connector_addr",
		"llm.api_key",
		"llm.model",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.confirmation_ttl", 15*time.Minute)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.rate_limit", 20.0)
	v.SetDefault("engine.rate_burst", 5)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.call_timeout", 10*time.Second)
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout", 45*time.Second)
	v.SetDefault("patterns.backend", "sqlite")
	v.SetDefault("patterns.sqlite_path", "patterns.db")
	v.SetDefault("patterns.key", KeyPatternCounters)
	v.SetDefault("perception.memory_limit", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — PEM из ENV имеет приоритет над файлом
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
