package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: &Config{
				PostgresDSN:       "postgres://localhost:5432/test",
				Port:              8080,
				IntentTTL:         10 * time.Minute,
				AuthMaxSkew:       5 * time.Minute,
				SupportedNetworks: []string{"eip155:8453"},
				SupportedAssets:   []string{"USDC"},
				AppSecretHash:     "$2a$10$abcdefghijklmnopqrstuv",
			},
			wantErr: false,
		},
		{
			name: "missing DSN",
			config: &Config{
				IntentTTL:         time.Minute,
				AuthMaxSkew:       time.Minute,
				SupportedNetworks: []string{"eip155:8453"},
				SupportedAssets:   []string{"USDC"},
				AppSecretHash:     "hash",
			},
			wantErr: true,
			errMsg:  "POSTGRES_DSN is required",
		},
		{
			name: "non-positive TTL",
			config: &Config{
				PostgresDSN:       "postgres://localhost:5432/test",
				AuthMaxSkew:       time.Minute,
				SupportedNetworks: []string{"eip155:8453"},
				SupportedAssets:   []string{"USDC"},
				AppSecretHash:     "hash",
			},
			wantErr: true,
			errMsg:  "INTENT_TTL must be positive",
		},
		{
			name: "empty supported set",
			config: &Config{
				PostgresDSN:   "postgres://localhost:5432/test",
				IntentTTL:     time.Minute,
				AuthMaxSkew:   time.Minute,
				AppSecretHash: "hash",
			},
			wantErr: true,
			errMsg:  "SUPPORTED_NETWORKS and SUPPORTED_ASSETS must not be empty",
		},
		{
			name: "missing app secret hash",
			config: &Config{
				PostgresDSN:       "postgres://localhost:5432/test",
				IntentTTL:         time.Minute,
				AuthMaxSkew:       time.Minute,
				SupportedNetworks: []string{"eip155:8453"},
				SupportedAssets:   []string{"USDC"},
			},
			wantErr: true,
			errMsg:  "APP_SECRET_HASH is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/test")
	t.Setenv("APP_SECRET_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	for _, key := range []string{"PORT", "INTENT_TTL", "AUTH_MAX_SKEW", "SUPPORTED_NETWORKS", "SUPPORTED_ASSETS"} {
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.IntentTTL)
	assert.Equal(t, 5*time.Minute, cfg.AuthMaxSkew)
	assert.Equal(t, []string{"eip155:8453"}, cfg.SupportedNetworks)
	assert.Equal(t, []string{"USDC"}, cfg.SupportedAssets)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/test")
	t.Setenv("APP_SECRET_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("INTENT_TTL", "2m")
	t.Setenv("AUTH_MAX_SKEW", "90s")
	t.Setenv("SUPPORTED_NETWORKS", "eip155:8453, eip155:1")
	t.Setenv("SUPPORTED_ASSETS", "USDC,DAI")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.IntentTTL)
	assert.Equal(t, 90*time.Second, cfg.AuthMaxSkew)
	assert.Equal(t, []string{"eip155:8453", "eip155:1"}, cfg.SupportedNetworks)
	assert.Equal(t, []string{"USDC", "DAI"}, cfg.SupportedAssets)
}
