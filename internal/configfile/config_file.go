package configfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/daytonaio/sdk-go/internal/env"
)

// Profile 是配置文件中的一个命名配置段。
type Profile struct {
	APIKey         string `toml:"api_key" yaml:"api_key"`
	JWTToken       string `toml:"jwt_token" yaml:"jwt_token"`
	OrganizationID string `toml:"organization_id" yaml:"organization_id"`
	APIURL         string `toml:"api_url" yaml:"api_url"`
	Target         string `toml:"target" yaml:"target"`
}

var ErrUnsupportedFormat = errors.New("unsupported config file format")

// Load 读取配置文件中的所有 profile。文件不存在时返回 nil, nil。
// 扩展名为 .yaml / .yml 的文件按 YAML 解析，其余按 TOML 解析。
func Load(path string) (map[string]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	profiles := make(map[string]*Profile)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &profiles); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml", "":
		if _, err := toml.Decode(string(data), &profiles); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, ErrUnsupportedFormat
	}
	return profiles, nil
}

// ActiveProfile 按 DAYTONA_CONFIG_FILE / DAYTONA_PROFILE 选出当前 profile，
// 没有配置文件或 profile 不存在时返回 nil。
func ActiveProfile() (*Profile, error) {
	path := env.ConfigFileFromEnvironment()
	if path == "" {
		path = defaultConfigFilePath()
	}
	if path == "" {
		return nil, nil
	}
	profiles, err := Load(path)
	if err != nil || profiles == nil {
		return nil, err
	}
	name := env.ProfileFromEnvironment()
	if name == "" {
		name = "default"
	}
	return profiles[name], nil
}

func defaultConfigFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".daytona", "config.toml")
}
