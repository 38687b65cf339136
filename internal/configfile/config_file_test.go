package configfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[default]
api_key = "key-1"
target = "us"

[staging]
jwt_token = "jwt"
organization_id = "org-1"
api_url = "https://staging.example.com/api"
`), 0o600))

	profiles, err := Load(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.Equal(t, "key-1", profiles["default"].APIKey)
	require.Equal(t, "us", profiles["default"].Target)
	require.Equal(t, "org-1", profiles["staging"].OrganizationID)
	require.Equal(t, "https://staging.example.com/api", profiles["staging"].APIURL)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  api_key: key-2\n"), 0o600))

	profiles, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "key-2", profiles["default"].APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	profiles, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Nil(t, profiles)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := Load(path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestActiveProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[default]\napi_key = \"a\"\n[other]\napi_key = \"b\"\n"), 0o600))
	t.Setenv("DAYTONA_CONFIG_FILE", path)

	p, err := ActiveProfile()
	require.NoError(t, err)
	require.Equal(t, "a", p.APIKey)

	t.Setenv("DAYTONA_PROFILE", "other")
	p, err = ActiveProfile()
	require.NoError(t, err)
	require.Equal(t, "b", p.APIKey)

	t.Setenv("DAYTONA_PROFILE", "missing")
	p, err = ActiveProfile()
	require.NoError(t, err)
	require.Nil(t, p)
}
