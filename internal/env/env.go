package env

import (
	"os"
	"strings"
)

const (
	environmentVariableNameAPIKey         = "DAYTONA_API_KEY"
	environmentVariableNameJWTToken       = "DAYTONA_JWT_TOKEN"
	environmentVariableNameOrganizationID = "DAYTONA_ORGANIZATION_ID"
	environmentVariableNameAPIURL         = "DAYTONA_API_URL"
	environmentVariableNameServerURL      = "DAYTONA_SERVER_URL"
	environmentVariableNameTarget         = "DAYTONA_TARGET"
	environmentVariableNameConfigFile     = "DAYTONA_CONFIG_FILE"
	environmentVariableNameProfile        = "DAYTONA_PROFILE"
	environmentVariableNameLogLevel       = "DAYTONA_LOG_LEVEL"
	environmentVariableNameDisableEvents  = "DAYTONA_DISABLE_EVENT_BUS"
)

func APIKeyFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameAPIKey))
}

// JWTFromEnvironment 返回 JWT 及其所属组织 ID，两者缺一则都返回空。
func JWTFromEnvironment() (string, string) {
	token := strings.TrimSpace(os.Getenv(environmentVariableNameJWTToken))
	orgID := strings.TrimSpace(os.Getenv(environmentVariableNameOrganizationID))
	return token, orgID
}

// APIURLFromEnvironment 返回 API 地址；第二个返回值表示是否来自已废弃的 DAYTONA_SERVER_URL。
func APIURLFromEnvironment() (string, bool) {
	if u := strings.TrimSpace(os.Getenv(environmentVariableNameAPIURL)); u != "" {
		return u, false
	}
	if u := strings.TrimSpace(os.Getenv(environmentVariableNameServerURL)); u != "" {
		return u, true
	}
	return "", false
}

func TargetFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameTarget))
}

func ConfigFileFromEnvironment() string {
	return os.Getenv(environmentVariableNameConfigFile)
}

func ProfileFromEnvironment() string {
	return os.Getenv(environmentVariableNameProfile)
}

func LogLevelFromEnvironment() string {
	return os.Getenv(environmentVariableNameLogLevel)
}

func DisableEventBusFromEnvironment() (bool, bool) {
	value := strings.ToLower(os.Getenv(environmentVariableNameDisableEvents))
	if value == "" {
		return false, false
	}
	return value == "true" || value == "yes" || value == "y" || value == "1", true
}
