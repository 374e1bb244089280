package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	baseURLVar     = "BASE_URL"
	logLevelVar    = "LOG_LEVEL"
	tenantsFileVar = "TENANTS_FILE"
	envFilePathVar = "ENV_FILE_PATH"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

// LoadEnv loads a .env file into the process environment. Variables already set win.
// A missing file is not an error; containers inject their environment directly.
func LoadEnv(defaultEnvPath string) {
	envFile := os.Getenv(envFilePathVar)
	if envFile == "" {
		envFile = defaultEnvPath
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Debug().Str("path", envFile).Msg("no .env file loaded, using process environment")
	}
}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "NextPhase Portal")
}

func (EnvVars) GetEnv() string {
	return strings.ToUpper(GetEnv("ENV", "DEV"))
}

// GetBaseURL returns the public base URL of the portal (e.g., "https://portal.nextphaseit.org").
// The OAuth redirect URI is derived from it.
func (EnvVars) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, "http://localhost:8080"), "/")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetTenantsFile returns the path of the tenants YAML file. Empty means built-in defaults.
func (EnvVars) GetTenantsFile() string {
	return GetEnv(tenantsFileVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(envVar))
	if value == "" {
		return defaultValue
	}
	return value
}

func GetDurationEnv(envVar string, defaultValue time.Duration) time.Duration {
	if value := GetEnv(envVar, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("var", envVar).Str("value", value).Msg("invalid duration, using default")
	}
	return defaultValue
}

func GetBoolEnv(envVar string, defaultValue bool) bool {
	if value := GetEnv(envVar, ""); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func GetIntEnv(envVar string, defaultValue int) int {
	if value := GetEnv(envVar, ""); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
