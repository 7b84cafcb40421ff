package config

import "time"

// BuilderConfig holds runtime configuration for the build container entrypoint.
type BuilderConfig struct {
	Environment     string
	LogLevel        string
	RepositoryURL   string
	ProjectID       string
	Workdir         string
	BuildCommand    string
	OutputDir       string
	GitTimeout      time.Duration
	BuildTimeout    time.Duration
	PubSubTransport string
	RedisURL        string
	NATSURL         string
	AWSRegion       string
	ArtifactBucket  string
	ArtifactPrefix  string
}

// LoadBuilderConfig constructs a BuilderConfig from environment variables.
func LoadBuilderConfig() BuilderConfig {
	loadDotEnv()
	return BuilderConfig{
		Environment:     GetString("APP_ENV", "development"),
		LogLevel:        GetString("LOG_LEVEL", "info"),
		RepositoryURL:   GetString("GIT_REPOSITORY_URL", ""),
		ProjectID:       GetString("PROJECT_ID", ""),
		Workdir:         GetString("BUILDER_WORKDIR", "/tmp/shipyard"),
		BuildCommand:    GetString("BUILD_COMMAND", "npm install && npm run build"),
		OutputDir:       GetString("BUILD_OUTPUT_DIR", "dist"),
		GitTimeout:      time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 60)) * time.Second,
		BuildTimeout:    time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 600)) * time.Second,
		PubSubTransport: GetString("PUBSUB_TRANSPORT", TransportRedis),
		RedisURL:        GetString("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:         GetString("NATS_URL", "nats://localhost:4222"),
		AWSRegion:       GetString("AWS_REGION", ""),
		ArtifactBucket:  GetString("ARTIFACT_BUCKET", ""),
		ArtifactPrefix:  GetString("ARTIFACT_PREFIX", "__outputs"),
	}
}

// CLIConfig holds defaults for the shipyard command line client.
type CLIConfig struct {
	APIBaseURL    string
	SocketBaseURL string
}

// LoadCLIConfig constructs a CLIConfig from environment variables.
func LoadCLIConfig() CLIConfig {
	loadDotEnv()
	return CLIConfig{
		APIBaseURL:    GetString("SHIPYARD_API", "http://localhost:9000"),
		SocketBaseURL: GetString("SHIPYARD_SOCKET", "ws://localhost:9002/ws"),
	}
}
