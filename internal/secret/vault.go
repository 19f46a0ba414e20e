package secret

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultProvider resolves VAULT: keys against a KV v2 mount.
type VaultProvider struct {
	client *vault.Client
	mount  string
	path   string
}

// VaultConfig is decoded from app_settings.secrets.vault in the loaded
// configuration.
type VaultConfig struct {
	Addr      string `mapstructure:"addr"`
	Token     string `mapstructure:"token"`
	Namespace string `mapstructure:"namespace"`
	Mount     string `mapstructure:"mount"`
	Path      string `mapstructure:"path"`
}

// NewVaultProvider checks that addr is set and builds a Vault client; it
// makes no request to the server, so an unreachable or misconfigured Vault
// surfaces on the first Get.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("secret: vault provider requires addr")
	}
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Addr
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("secret: creating vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	path := strings.TrimSuffix(cfg.Path, "/")
	if path == "" {
		path = "feedmesh"
	}
	return &VaultProvider{client: client, mount: mount, path: path}, nil
}

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	secret, err := p.client.KVv2(p.mount).Get(ctx, p.path+"/"+key)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return "", ErrNotFound
		}
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", ErrNotFound
	}
	if val, ok := secret.Data["value"].(string); ok {
		return val, nil
	}
	return "", ErrNotFound
}

func (p *VaultProvider) Name() string { return "vault" }
