// Package config manages configuration for the pipewright CLI and service.
// It uses Viper for unified configuration management from files and
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/constants"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the unified configuration for the CLI and the HTTP service. It
// loads from ~/.pipewright/config.yaml and from PIPEWRIGHT_ environment
// variables; environment variables take precedence.
type Config struct {
	// CLI configuration
	APIEndpoint string `mapstructure:"api_endpoint" yaml:"api_endpoint" validate:"omitempty,url"`

	// Deployment target
	InferenceProjectID string `mapstructure:"inference_project_id" yaml:"inference_project_id"`
	TelemetryProjectID string `mapstructure:"telemetry_project_id" yaml:"telemetry_project_id"`
	SameProject        bool   `mapstructure:"same_project" yaml:"same_project"`
	Region             string `mapstructure:"region" yaml:"region"`
	DatasetName        string `mapstructure:"dataset_name" yaml:"dataset_name"`
	Network            string `mapstructure:"network" yaml:"network"`
	Subnetwork         string `mapstructure:"subnetwork" yaml:"subnetwork"`
	AuthMode           string `mapstructure:"auth_mode" yaml:"auth_mode" validate:"omitempty,oneof=interactive headless"`

	// Privacy controls
	LogPrompts      bool `mapstructure:"log_prompts" yaml:"log_prompts"`
	PseudonymizeIDs bool `mapstructure:"pseudonymize_ids" yaml:"pseudonymize_ids"`

	// Service configuration
	Port        string `mapstructure:"port" validate:"omitempty,numeric"`
	LogLevel    string `mapstructure:"log_level"`
	Environment string `mapstructure:"environment" validate:"omitempty,oneof=production development cli"`
}

var validate = validator.New()

// Load loads the configuration using Viper. The config file is optional;
// environment variables alone are enough for service deployments.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := loadConfigFile(v); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	v.SetEnvPrefix(strings.ToUpper(constants.ProjectName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads the configuration and exits on error. Suitable for
// application startup where configuration errors should be fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Save saves the deployment target portion of the configuration to the
// user's home directory, overwriting any existing config file.
func Save(config *Config) error {
	currentUser, err := user.Current()
	if err != nil {
		return fmt.Errorf("error getting current user: %w", err)
	}

	configDir := constants.ConfigDirPath(currentUser.HomeDir)

	if err = os.MkdirAll(configDir, constants.ConfigDirPermissions); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	configFilePath := filepath.Join(configDir, constants.ConfigFileName)

	v := viper.New()
	v.Set("api_endpoint", config.APIEndpoint)
	v.Set("inference_project_id", config.InferenceProjectID)
	v.Set("telemetry_project_id", config.TelemetryProjectID)
	v.Set("same_project", config.SameProject)
	v.Set("region", config.Region)
	v.Set("dataset_name", config.DatasetName)
	v.Set("network", config.Network)
	v.Set("subnetwork", config.Subnetwork)
	v.Set("auth_mode", config.AuthMode)
	v.Set("log_prompts", config.LogPrompts)
	v.Set("pseudonymize_ids", config.PseudonymizeIDs)

	if err = v.WriteConfigAs(configFilePath); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	if err = os.Chmod(configFilePath, constants.ConfigFilePermissions); err != nil {
		return fmt.Errorf("error setting config file permissions: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() (string, error) {
	currentUser, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("error getting current user: %w", err)
	}

	configDir := constants.ConfigDirPath(currentUser.HomeDir)
	return filepath.Join(configDir, constants.ConfigFileName), nil
}

// GetLogLevel returns the slog.Level from the string configuration.
// Defaults to INFO if the level string is invalid.
func (c *Config) GetLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// GetEnvironment returns the configured environment, defaulting to
// development when unset or unrecognized.
func (c *Config) GetEnvironment() constants.Environment {
	switch constants.Environment(c.Environment) {
	case constants.Production, constants.Development, constants.CLI:
		return constants.Environment(c.Environment)
	default:
		return constants.Development
	}
}

// ToRunConfig converts the configuration into a deployment run config.
func (c *Config) ToRunConfig() api.RunConfig {
	return api.RunConfig{
		InferenceProjectID: c.InferenceProjectID,
		TelemetryProjectID: c.TelemetryProjectID,
		SameProject:        c.SameProject,
		Region:             c.Region,
		DatasetName:        c.DatasetName,
		Network:            c.Network,
		Subnetwork:         c.Subnetwork,
		AuthMode:           api.AuthMode(c.AuthMode),
		LogPrompts:         c.LogPrompts,
		PseudonymizeIDs:    c.PseudonymizeIDs,
	}
}

// Helper functions

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_endpoint", "http://localhost:"+constants.DefaultPort)
	v.SetDefault("port", constants.DefaultPort)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("environment", string(constants.Development))
	v.SetDefault("same_project", true)
	v.SetDefault("region", "us-central1")
	v.SetDefault("dataset_name", "model_telemetry")
	v.SetDefault("network", "default")
	v.SetDefault("auth_mode", string(api.AuthHeadless))
	v.SetDefault("pseudonymize_ids", true)
}

func loadConfigFile(v *viper.Viper) error {
	currentUser, err := user.Current()
	if err != nil {
		return fmt.Errorf("error getting current user: %w", err)
	}

	configDir := constants.ConfigDirPath(currentUser.HomeDir)
	configFile := filepath.Join(configDir, constants.ConfigFileName)

	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	return v.ReadInConfig()
}

func bindEnvVars(v *viper.Viper) {
	envVars := []string{
		"API_ENDPOINT",
		"AUTH_MODE",
		"DATASET_NAME",
		"ENVIRONMENT",
		"INFERENCE_PROJECT_ID",
		"LOG_LEVEL",
		"LOG_PROMPTS",
		"NETWORK",
		"PORT",
		"PSEUDONYMIZE_IDS",
		"REGION",
		"SAME_PROJECT",
		"SUBNETWORK",
		"TELEMETRY_PROJECT_ID",
	}

	prefix := strings.ToUpper(constants.ProjectName) + "_"
	for _, envVar := range envVars {
		configKey := strings.ToLower(envVar)
		_ = v.BindEnv(configKey, prefix+envVar)
	}
}
