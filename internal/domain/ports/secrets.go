package ports

import "context"

// Secret is a resolved secret value with backend metadata
type Secret struct {
	Value     string
	Version   string
	Metadata  map[string]string
	CreatedAt string
}

// SecretManager resolves credentials (processor API keys, cron tokens)
// from a secrets backend.
type SecretManager interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
	PutSecret(ctx context.Context, path, value string, tags map[string]string) (string, error)
	DeleteSecret(ctx context.Context, path string) error
	HealthCheck(ctx context.Context) error
}
