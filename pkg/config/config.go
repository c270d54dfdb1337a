package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	ServiceName string
	Server      ServerConfig
	Tenants     TenantsConfig
	Supervisor  SupervisorConfig
	Logs        LogStreamConfig
	Log         LogConfig
	Metrics     MetricsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Env             string
	ShutdownTimeout time.Duration
}

// TenantsConfig holds tenant filesystem layout configuration
type TenantsConfig struct {
	TemplatePath   string
	ClientsRoot    string
	AppEntrypoint  string
	EnvFileName    string
	SessionDirName string
	CloneMethod    string
}

// SupervisorConfig holds the external process supervisor configuration
type SupervisorConfig struct {
	Bin string
}

// LogStreamConfig holds live log stream configuration
type LogStreamConfig struct {
	Timeout time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	Prefix string
}

// Load loads the application configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	return FromEnv(), nil
}

// FromEnv builds the configuration from the current environment only
func FromEnv() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "gestor-chatbot"),
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "4000"),
			Env:             getEnv("APP_ENV", "development"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Tenants: TenantsConfig{
			TemplatePath:   getEnv("TEMPLATE_PATH", "../chat-bot-whatsapp"),
			ClientsRoot:    getEnv("CLIENTS_ROOT", "../clientes_chatbot"),
			AppEntrypoint:  getEnv("APP_ENTRYPOINT", "app.js"),
			EnvFileName:    getEnv("ENV_FILE_NAME", ".env"),
			SessionDirName: getEnv("SESSION_DIR_NAME", "bot_sessions"),
			CloneMethod:    getEnv("CLONE_METHOD", "rsync"),
		},
		Supervisor: SupervisorConfig{
			Bin: getEnv("SUPERVISOR_BIN", "pm2"),
		},
		Logs: LogStreamConfig{
			Timeout: getEnvAsDuration("LOG_STREAM_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "botmanager"),
		},
	}
}

// LogFields returns the configuration as zap fields for the startup log
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("server_port", c.Server.Port),
		zap.String("template_path", c.Tenants.TemplatePath),
		zap.String("clients_root", c.Tenants.ClientsRoot),
		zap.String("clone_method", c.Tenants.CloneMethod),
		zap.String("supervisor", c.Supervisor.Bin),
		zap.Duration("log_stream_timeout", c.Logs.Timeout),
	}
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}
