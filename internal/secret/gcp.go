package secret

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// GCPSecretManagerProvider backs the GCP-SM: config interpolation prefix.
type GCPSecretManagerProvider struct {
	client  *secretmanager.Client
	project string
	prefix  string
}

// GCPConfig is decoded from app_settings.secrets.gcp_sm.
type GCPConfig struct {
	Project string `mapstructure:"project"`
	Prefix  string `mapstructure:"prefix"`
}

func NewGCPSecretManagerProvider(ctx context.Context, cfg GCPConfig) (*GCPSecretManagerProvider, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("secret: gcp-sm provider requires project")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret: creating gcp secretmanager client: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "feedmesh-"
	}
	return &GCPSecretManagerProvider{client: client, project: cfg.Project, prefix: prefix}, nil
}

func (p *GCPSecretManagerProvider) Get(ctx context.Context, key string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s%s/versions/latest", p.project, p.prefix, key)
	result, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			return "", ErrNotFound
		}
		return "", err
	}
	if result.Payload == nil {
		return "", ErrNotFound
	}
	return string(result.Payload.Data), nil
}

func (p *GCPSecretManagerProvider) Name() string { return "gcp-sm" }
