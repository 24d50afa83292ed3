/*
Copyright © 2025 Scalyr Team <support@scalyr.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package config loads the global agent-build configuration with the
// precedence chain: CLI flags > environment variables > config file > defaults.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the global agent-build configuration. This holds
// environment-specific settings for builds, registries, and the EC2 test
// infrastructure, not per-image build definitions.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Build    BuildConfig    `mapstructure:"build"`
	Registry RegistryConfig `mapstructure:"registry"`
	AWS      AWSConfig      `mapstructure:"aws"`
	CI       CIConfig       `mapstructure:"ci"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BuildConfig holds container image build configuration.
type BuildConfig struct {
	// OutputRoot is the directory holding build results and the local
	// buildx cache directories.
	OutputRoot string `mapstructure:"output_root"`
	// SourceRoot is the agent source checkout used for filesystem assembly.
	SourceRoot string `mapstructure:"source_root"`
	// UseGHACache selects the GitHub Actions cache backend instead of the
	// local directory cache.
	UseGHACache bool `mapstructure:"use_gha_cache"`
	// CacheVersion suffixes every cache scope so the cache can be
	// invalidated by hand.
	CacheVersion string `mapstructure:"cache_version"`
	// AllowFallbackToRemoteBuilder globally gates escalation to a remote
	// builder when a local cached build times out.
	AllowFallbackToRemoteBuilder bool `mapstructure:"allow_fallback_to_remote_builder"`
	// RemoteBuilderEndpoints optionally maps an architecture name to a
	// BuildKit endpoint (tcp:// or docker-container://) for that
	// architecture's remote builder.
	RemoteBuilderEndpoints map[string]string `mapstructure:"remote_builder_endpoints"`
}

// RegistryConfig holds destination registry configuration for publishing.
type RegistryConfig struct {
	Default  string `mapstructure:"default"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AWSConfig holds AWS credentials and region settings.
type AWSConfig struct {
	Region          string    `mapstructure:"region"`
	Profile         string    `mapstructure:"profile"`
	AccessKeyID     string    `mapstructure:"access_key_id"`
	SecretAccessKey string    `mapstructure:"secret_access_key"`
	EC2             EC2Config `mapstructure:"ec2"`
}

// EC2Config holds settings for the ephemeral EC2 test nodes.
type EC2Config struct {
	PrefixListID      string `mapstructure:"prefix_list_id"`
	SecurityGroup     string `mapstructure:"security_group"`
	PrivateKeyPath    string `mapstructure:"private_key_path"`
	PrivateKeyName    string `mapstructure:"private_key_name"`
	InstanceType      string `mapstructure:"instance_type"`
	ImageID           string `mapstructure:"image_id"`
	SSHUsername       string `mapstructure:"ssh_username"`
	ObjectsNamePrefix string `mapstructure:"objects_name_prefix"`
}

// CIConfig carries the GitHub Actions environment used for CI run
// classification. All fields are populated from the standard GITHUB_*
// variables.
type CIConfig struct {
	EventName string `mapstructure:"event_name"`
	BaseRef   string `mapstructure:"base_ref"`
	RefType   string `mapstructure:"ref_type"`
	RefName   string `mapstructure:"ref_name"`
	SHA       string `mapstructure:"sha"`
	Token     string `mapstructure:"token"`
	// Repository is the "owner/name" slug of the repository the workflow
	// runs in.
	Repository string `mapstructure:"repository"`
	// Event is the raw JSON payload of the triggering event.
	Event string `mapstructure:"event"`
}

// Load reads and parses the global configuration file.
// Returns a Config with defaults if no config file exists.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(home, ".agent-build"))
		v.AddConfigPath(filepath.Join(home, ".config", "agent-build"))
	}
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("AGENT_BUILD")
	v.AutomaticEnv()
	bindEnvVars(v)

	// Config file is optional.
	_ = v.ReadInConfig()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("AGENT_BUILD")
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")

	// Build defaults
	v.SetDefault("build.output_root", "agent_build_output")
	v.SetDefault("build.source_root", ".")
	v.SetDefault("build.use_gha_cache", false)
	v.SetDefault("build.cache_version", "")
	v.SetDefault("build.allow_fallback_to_remote_builder", false)

	// Registry defaults
	v.SetDefault("registry.default", "docker.io")

	// AWS defaults (SDK defaults apply when unset)
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")

	// EC2 test node defaults
	v.SetDefault("aws.ec2.instance_type", "t2.small")
	v.SetDefault("aws.ec2.ssh_username", "ubuntu")
}

// bindEnvVars explicitly binds environment variables to config keys.
// The cache and fallback switches keep their historical, unprefixed names so
// existing CI workflow definitions continue to work.
func bindEnvVars(v *viper.Viper) {
	// Build cache switches, unprefixed by convention
	_ = v.BindEnv("build.use_gha_cache", "USE_GHA_CACHE")
	_ = v.BindEnv("build.cache_version", "CACHE_VERSION")
	_ = v.BindEnv("build.allow_fallback_to_remote_builder", "ALLOW_FALLBACK_TO_REMOTE_BUILDER")

	// Build
	_ = v.BindEnv("build.output_root", "AGENT_BUILD_OUTPUT_ROOT")
	_ = v.BindEnv("build.source_root", "AGENT_BUILD_SOURCE_ROOT")

	// Registry
	_ = v.BindEnv("registry.default", "AGENT_BUILD_REGISTRY_DEFAULT")
	_ = v.BindEnv("registry.username", "AGENT_BUILD_REGISTRY_USERNAME")
	_ = v.BindEnv("registry.password", "AGENT_BUILD_REGISTRY_PASSWORD")

	// AWS, standard SDK variable names
	_ = v.BindEnv("aws.region", "AWS_REGION")
	_ = v.BindEnv("aws.profile", "AWS_PROFILE")
	_ = v.BindEnv("aws.access_key_id", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")

	// EC2 test nodes
	_ = v.BindEnv("aws.ec2.prefix_list_id", "AGENT_BUILD_EC2_PREFIX_LIST_ID")
	_ = v.BindEnv("aws.ec2.security_group", "AGENT_BUILD_EC2_SECURITY_GROUP")
	_ = v.BindEnv("aws.ec2.private_key_path", "AGENT_BUILD_EC2_PRIVATE_KEY_PATH")
	_ = v.BindEnv("aws.ec2.private_key_name", "AGENT_BUILD_EC2_PRIVATE_KEY_NAME")
	_ = v.BindEnv("aws.ec2.objects_name_prefix", "AGENT_BUILD_EC2_OBJECTS_NAME_PREFIX")

	// GitHub Actions run classification, standard names
	_ = v.BindEnv("ci.event_name", "GITHUB_EVENT_NAME")
	_ = v.BindEnv("ci.base_ref", "GITHUB_BASE_REF")
	_ = v.BindEnv("ci.ref_type", "GITHUB_REF_TYPE")
	_ = v.BindEnv("ci.ref_name", "GITHUB_REF_NAME")
	_ = v.BindEnv("ci.sha", "GITHUB_SHA")
	_ = v.BindEnv("ci.token", "GITHUB_TOKEN")
	_ = v.BindEnv("ci.repository", "GITHUB_REPOSITORY")
	_ = v.BindEnv("ci.event", "GITHUB_EVENT")
}
