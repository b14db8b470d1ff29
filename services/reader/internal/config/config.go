package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the config file read when no path is given.
const ConfigPath = "config.yaml"

const (
	defaultAIProvider       = "deepseek"
	defaultChatContextPages = 2
	defaultJWTLeeway        = 30 * time.Second
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RedisAddr      string   `yaml:"redisAddr"`
	RedisPassword  string   `yaml:"redisPassword"`
	AMQPURL        string   `yaml:"amqpURL"`
	TrustedProxies []string `yaml:"trustedProxies"`

	OutlineURL                string `yaml:"outlineURL"`
	InternalJWTKeyID          string `yaml:"internalJWTKeyID"`
	InternalJWTPrivateKeyPath string `yaml:"internalJWTPrivateKeyPath"`

	SupabaseJWTSecret string `yaml:"supabaseJWTSecret"`
	AuthJWKSURL       string `yaml:"authJWKSURL"`
	JWTIssuer         string `yaml:"jwtIssuer"`
	JWTAudience       string `yaml:"jwtAudience"`
	JWTLeeway         string `yaml:"jwtLeeway"`

	AIProvider          string `yaml:"aiProvider"`
	DeepSeekAPIKey      string `yaml:"deepseekAPIKey"`
	DeepSeekBaseURL     string `yaml:"deepseekBaseURL"`
	DeepSeekModel       string `yaml:"deepseekModel"`
	GigaChatAuthKey     string `yaml:"gigachatAuthKey"`
	GigaChatScope       string `yaml:"gigachatScope"`
	GigaChatModel       string `yaml:"gigachatModel"`
	GigaChatInsecureTLS *bool  `yaml:"gigachatInsecureTLS"`
	ChatContextPages    *int   `yaml:"chatContextPages"`
	ChatHistoryLimit    int    `yaml:"chatHistoryLimit"`

	ChatRateLimit  int `yaml:"chatRateLimit"`
	ShareRateLimit int `yaml:"shareRateLimit"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override with environment variables
func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("SUPABASE_JWT_SECRET"); v != "" {
		cfg.SupabaseJWTSecret = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.AIProvider = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		cfg.DeepSeekAPIKey = v
	}
	if v := os.Getenv("GIGACHAT_AUTH_KEY"); v != "" {
		cfg.GigaChatAuthKey = v
	}
	if v := os.Getenv("GIGACHAT_INSECURE_TLS"); v != "" {
		insecure := v == "true"
		cfg.GigaChatInsecureTLS = &insecure
	}
	if v := os.Getenv("CHAT_CONTEXT_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChatContextPages = &n
		}
	}
	if v := os.Getenv("READER_INTERNAL_JWT_KEY_ID"); v != "" {
		cfg.InternalJWTKeyID = v
	}
	if v := os.Getenv("READER_INTERNAL_JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.InternalJWTPrivateKeyPath = v
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if cfg.AIProvider == "" {
		cfg.AIProvider = defaultAIProvider
	}
	if cfg.GigaChatInsecureTLS == nil {
		insecure := true
		cfg.GigaChatInsecureTLS = &insecure
	}
	if cfg.ChatContextPages == nil {
		pages := defaultChatContextPages
		cfg.ChatContextPages = &pages
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.OutlineURL == "" {
		return errors.New("config: outlineURL is required (set in config.yaml)")
	}
	if cfg.InternalJWTPrivateKeyPath == "" {
		return errors.New("config: internalJWTPrivateKeyPath is required (set in config.yaml or READER_INTERNAL_JWT_PRIVATE_KEY_PATH)")
	}
	hasSecret := strings.TrimSpace(cfg.SupabaseJWTSecret) != ""
	hasJWKS := strings.TrimSpace(cfg.AuthJWKSURL) != ""
	if hasSecret == hasJWKS {
		return errors.New("config: exactly one of supabaseJWTSecret and authJWKSURL is required (set in config.yaml or SUPABASE_JWT_SECRET)")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	switch cfg.AIProvider {
	case "deepseek":
		if cfg.DeepSeekAPIKey == "" {
			return errors.New("config: deepseekAPIKey is required for aiProvider deepseek (set DEEPSEEK_API_KEY)")
		}
	case "gigachat":
		if cfg.GigaChatAuthKey == "" {
			return errors.New("config: gigachatAuthKey is required for aiProvider gigachat (set GIGACHAT_AUTH_KEY)")
		}
	case "mock":
	default:
		return fmt.Errorf("config: unknown aiProvider %q (deepseek, gigachat or mock)", cfg.AIProvider)
	}
	if cfg.ChatContextPages != nil && *cfg.ChatContextPages < 0 {
		return errors.New("config: chatContextPages must not be negative")
	}
	return nil
}

// ParseJWTLeeway parses the configured clock skew, defaulting to 30s.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultJWTLeeway, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid jwtLeeway %q: %w", raw, err)
	}
	if d < 0 {
		return 0, errors.New("config: jwtLeeway must not be negative")
	}
	return d, nil
}
