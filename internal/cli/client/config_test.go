package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withConfigPath points the config file at a temp dir for one test.
func withConfigPath(t *testing.T) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")

	old := getConfigPathFunc
	getConfigPathFunc = func() (string, error) { return configPath, nil }
	t.Cleanup(func() { getConfigPathFunc = old })

	return configPath
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := defaultGetConfigPath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, "config.json", filepath.Base(path))
	assert.Equal(t, "filingsearch", filepath.Base(filepath.Dir(path)))
}

func TestLoadGlobalConfig_FileNotExists(t *testing.T) {
	withConfigPath(t)

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestSaveAndLoadGlobalConfig(t *testing.T) {
	configPath := withConfigPath(t)

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "https://filings.example.com"}))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "https://filings.example.com", config.APIURL)
}

func TestLoadGlobalConfig_InvalidJSON(t *testing.T) {
	configPath := withConfigPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0600))

	_, err := LoadGlobalConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveGlobalConfig_Nil(t *testing.T) {
	withConfigPath(t)
	assert.Error(t, SaveGlobalConfig(nil))
}

func TestDeleteGlobalConfig(t *testing.T) {
	configPath := withConfigPath(t)

	require.NoError(t, DeleteGlobalConfig(), "missing file is not an error")

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "http://localhost:9000"}))
	require.NoError(t, DeleteGlobalConfig())
	_, err := os.Stat(configPath)
	assert.True(t, os.IsNotExist(err))
}

func TestValidateAPIURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:8080", false},
		{"https://filings.example.com/api", false},
		{"localhost:8080", true},
		{"ftp://filings.example.com", true},
		{"http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateAPIURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveAPIURL(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		withConfigPath(t)
		t.Setenv(envAPIURL, "http://env:8080")

		got, err := ResolveAPIURL("http://flag:8080/")
		require.NoError(t, err)
		assert.Equal(t, "http://flag:8080", got)
	})

	t.Run("env before config", func(t *testing.T) {
		withConfigPath(t)
		require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "http://config:8080"}))
		t.Setenv(envAPIURL, "http://env:8080")

		got, err := ResolveAPIURL("")
		require.NoError(t, err)
		assert.Equal(t, "http://env:8080", got)
	})

	t.Run("config before default", func(t *testing.T) {
		withConfigPath(t)
		require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "http://config:8080"}))
		t.Setenv(envAPIURL, "")

		got, err := ResolveAPIURL("")
		require.NoError(t, err)
		assert.Equal(t, "http://config:8080", got)
	})

	t.Run("default", func(t *testing.T) {
		withConfigPath(t)
		t.Setenv(envAPIURL, "")

		got, err := ResolveAPIURL("")
		require.NoError(t, err)
		assert.Equal(t, defaultAPIURL, got)
	})
}
