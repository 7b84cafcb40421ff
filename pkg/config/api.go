package config

import "time"

// Executor backends understood by the API.
const (
	ExecutorECS        = "ecs"
	ExecutorDocker     = "docker"
	ExecutorKubernetes = "kubernetes"
)

// Pub/sub transports understood by the API and builder.
const (
	TransportRedis  = "redis"
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// APIConfig holds runtime configuration for the API and socket servers.
type APIConfig struct {
	Environment     string
	LogLevel        string
	Addr            string
	SocketAddr      string
	ArtifactBaseURL string
	SlugStyle       string
	DispatchTimeout time.Duration

	PubSubTransport string
	RedisURL        string
	NATSURL         string
	LogBuffer       int

	DatabaseURL   string
	MigrationsDir string
	SessionTTL    time.Duration

	Executor          string
	BuilderImage      string
	BuilderEnv        []string
	AWSRegion         string
	ECSCluster        string
	ECSTaskDefinition string
	ECSContainerName  string
	ECSSubnets        []string
	ECSSecurityGroups []string
	ECSAssignPublicIP bool
	DockerHost        string
	DockerNetwork     string
	K8sNamespace      string
	K8sJobTTL         time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	loadDotEnv()
	return APIConfig{
		Environment:       GetString("APP_ENV", "development"),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		Addr:              GetString("API_ADDR", ":9000"),
		SocketAddr:        GetString("SOCKET_ADDR", ":9002"),
		ArtifactBaseURL:   GetString("ARTIFACT_BASE_URL", "http://localhost:8000/__outputs"),
		SlugStyle:         GetString("SLUG_STYLE", "words"),
		DispatchTimeout:   time.Duration(GetInt("DISPATCH_TIMEOUT_SECONDS", 30)) * time.Second,
		PubSubTransport:   GetString("PUBSUB_TRANSPORT", TransportRedis),
		RedisURL:          GetString("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:           GetString("NATS_URL", "nats://localhost:4222"),
		LogBuffer:         GetInt("WS_LOG_BUFFER", 256),
		DatabaseURL:       GetString("DATABASE_URL", ""),
		MigrationsDir:     GetString("DB_MIGRATIONS_DIR", ""),
		SessionTTL:        time.Duration(GetInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		Executor:          GetString("EXECUTOR", ExecutorECS),
		BuilderImage:      GetString("BUILDER_IMAGE", "shipyard/builder:latest"),
		BuilderEnv:        GetList("BUILDER_EXTRA_ENV", nil),
		AWSRegion:         GetString("AWS_REGION", ""),
		ECSCluster:        GetString("ECS_CLUSTER", ""),
		ECSTaskDefinition: GetString("ECS_TASK_DEFINITION", ""),
		ECSContainerName:  GetString("ECS_CONTAINER_NAME", "builder-image"),
		ECSSubnets:        GetList("SUBNETS", nil),
		ECSSecurityGroups: GetList("SECURITY_GROUP", nil),
		ECSAssignPublicIP: GetBool("ECS_ASSIGN_PUBLIC_IP", true),
		DockerHost:        GetString("DOCKER_HOST", ""),
		DockerNetwork:     GetString("DOCKER_NETWORK", ""),
		K8sNamespace:      GetString("K8S_NAMESPACE", "default"),
		K8sJobTTL:         time.Duration(GetInt("K8S_JOB_TTL_SECONDS", 3600)) * time.Second,
	}
}
