// Package secrets resolves runtime credentials from HashiCorp Vault KV v2.
// With Vault disabled the client serves only locally seeded values, which is
// how development and tests run.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Well-known secret names used across the system
const (
	SecretDatabaseDSN     = "database_dsn"
	SecretRedisPassword   = "redis_password"
	SecretJWTSigningKey   = "jwt_signing_key"
	SecretInferenceAPIKey = "inference_api_key"
)

// Config holds Vault connection settings
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// DefaultConfig returns a disabled-Vault configuration
func DefaultConfig() *Config {
	return &Config{
		MountPath:  "secret",
		SecretPath: "gap-trading-bot",
	}
}

// Client reads secrets from Vault with an in-memory read-through cache
type Client struct {
	client *api.Client
	config *Config

	mu    sync.RWMutex
	cache map[string]string
}

// NewClient creates a secrets client. With Vault disabled no connection is
// made and only seeded values resolve.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Client{config: config, cache: make(map[string]string)}
	if !config.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = config.Address
	if config.TLSEnabled && config.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: config.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(config.Token)
	c.client = client
	return c, nil
}

// Seed installs a local secret value, overriding Vault for that name
func (c *Client) Seed(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[name] = value
}

// Get resolves a secret by name. Cached and seeded values win; otherwise the
// KV v2 store is consulted and the result cached.
func (c *Client) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	if v, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return "", fmt.Errorf("secret %q not seeded and vault is disabled", name)
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %q not found", name)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected secret format at %s", path)
	}
	value, ok := data[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %q not found", name)
	}

	c.mu.Lock()
	c.cache[name] = value
	c.mu.Unlock()
	return value, nil
}

// GetOrDefault resolves a secret, falling back to def when unavailable
func (c *Client) GetOrDefault(ctx context.Context, name, def string) string {
	v, err := c.Get(ctx, name)
	if err != nil {
		return def
	}
	return v
}

// ClearCache drops all cached values, forcing re-reads from Vault
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]string)
}

// Health checks the Vault connection; always healthy when disabled
func (c *Client) Health(_ context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
