package config

import (
	"context"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"
)

// BrokerCredentials is the shape stored at Broker.VaultPath.
type BrokerCredentials struct {
	AppKey        string `json:"app_key"`
	AppSecret     string `json:"app_secret"`
	AccountNumber string `json:"account_number"`
}

// LoadBrokerCredentials fetches brokerage credentials from Vault when
// Broker.VaultPath is set, rather than trusting the literal fields in
// config.json — per the teacher's own config.go comment that API keys are
// never read from plain config/env, they are per-account secrets.
// If VaultPath is empty the literal BrokerConfig fields are used unchanged.
func LoadBrokerCredentials(ctx context.Context, cfg *Config) error {
	if cfg.Broker.VaultPath == "" {
		return nil
	}

	client, err := vaultapi.NewClient(vaultapi.DefaultConfig())
	if err != nil {
		return fmt.Errorf("vault client: %w", err)
	}

	secret, err := client.Logical().ReadWithContext(ctx, cfg.Broker.VaultPath)
	if err != nil {
		return fmt.Errorf("vault read %s: %w", cfg.Broker.VaultPath, err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("vault read %s: no secret found", cfg.Broker.VaultPath)
	}

	data := secret.Data
	if kv2, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = kv2
	}

	if v, ok := data["app_key"].(string); ok {
		cfg.Broker.AppKey = v
	}
	if v, ok := data["app_secret"].(string); ok {
		cfg.Broker.AppSecret = v
	}
	if v, ok := data["account_number"].(string); ok {
		cfg.Broker.AccountNumber = v
	}

	return nil
}
