package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	portEnvVar    = "PORT"
	appNameVar    = "APP_NAME"
	frontendVar   = "FRONTEND_URL"
	redisAddrVar  = "REDIS_ADDR"
	redisDBEnvVar = "REDIS_DB"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8001")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "BionicPRO Auth")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetFrontendURL returns the browser-facing frontend base URL. The broker
// redirects here after callback and logout, and allows it as a CORS origin.
func (EnvVars) GetFrontendURL() string {
	return GetEnv(frontendVar, "http://localhost:3000")
}

func (EnvVars) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "redis:6379")
}

func (EnvVars) GetRedisDB() int {
	return GetEnvInt(redisDBEnvVar, 0)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
