package config

type Config interface {
	EnvConfig
	CorsConfig
	IdentityConfig
	DeviceFlowConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetRedisAddr() string
	GetEnv() string
	GetBaseURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Identity
	DeviceFlow
}

func New() Config {
	return mainConfig{}
}
