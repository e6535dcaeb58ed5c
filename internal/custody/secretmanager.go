package custody

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	smpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"model-token-engine/internal/aptos"
)

// Defaults for SecretManagerConfig.
const (
	DefaultSecretPrefix = "model-wallet-"
	DefaultCacheSize    = 256
)

// SecretManagerConfig configures the Secret Manager provider.
type SecretManagerConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	SecretPrefix    string `mapstructure:"secret_prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CacheSize       int    `mapstructure:"cache_size"`
}

// secretClient is the subset of the Secret Manager client used here.
type secretClient interface {
	AccessSecretVersion(ctx context.Context, req *smpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*smpb.AccessSecretVersionResponse, error)
	CreateSecret(ctx context.Context, req *smpb.CreateSecretRequest, opts ...gax.CallOption) (*smpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *smpb.AddSecretVersionRequest, opts ...gax.CallOption) (*smpb.SecretVersion, error)
	Close() error
}

// SecretManagerProvider keeps one secret per custodial account in GCP Secret
// Manager, named <prefix><address without 0x>. Resolved signers are cached.
type SecretManagerProvider struct {
	client secretClient
	cfg    SecretManagerConfig
	cache  *lru.Cache
	logger logrus.FieldLogger
}

// Compile-time interface check.
var _ Provider = (*SecretManagerProvider)(nil)

// NewSecretManagerProvider connects to Secret Manager.
func NewSecretManagerProvider(ctx context.Context, cfg SecretManagerConfig, logger logrus.FieldLogger) (*SecretManagerProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secretmanager client: %w", err)
	}

	p, err := newSecretManagerProvider(client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func newSecretManagerProvider(client secretClient, cfg SecretManagerConfig, logger logrus.FieldLogger) (*SecretManagerProvider, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("secretmanager: project id is empty")
	}
	if cfg.SecretPrefix == "" {
		cfg.SecretPrefix = DefaultSecretPrefix
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create signer cache: %w", err)
	}

	return &SecretManagerProvider{
		client: client,
		cfg:    cfg,
		cache:  cache,
		logger: logger.WithField("component", "custody"),
	}, nil
}

// Close releases the underlying client.
func (p *SecretManagerProvider) Close() error {
	return p.client.Close()
}

// Signer resolves ref, which is either a full secret version name
// (projects/.../versions/N) or an account address.
func (p *SecretManagerProvider) Signer(ctx context.Context, ref string) (aptos.Signer, error) {
	name, err := p.versionName(ref)
	if err != nil {
		return nil, err
	}

	if cached, ok := p.cache.Get(name); ok {
		return cached.(aptos.Signer), nil
	}

	resp, err := p.client.AccessSecretVersion(ctx, &smpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
		}
		return nil, fmt.Errorf("access secret version %s: %w", name, err)
	}
	if resp == nil || resp.Payload == nil || len(resp.Payload.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload (%s)", ErrKeyNotFound, name)
	}

	signer, err := aptos.ParsePrivateKey(string(resp.Payload.Data))
	if err != nil {
		return nil, fmt.Errorf("parse secret %s: %w", name, err)
	}

	p.cache.Add(name, signer)
	return signer, nil
}

// Store writes the account seed as a new version of the account's secret,
// creating the secret on first use. Returns the version name.
func (p *SecretManagerProvider) Store(ctx context.Context, account *aptos.Ed25519Signer) (string, error) {
	if account == nil {
		return "", fmt.Errorf("store key: nil account")
	}
	secretID := p.secretID(account.Address())
	secretName := fmt.Sprintf("projects/%s/secrets/%s", p.cfg.ProjectID, secretID)

	_, err := p.client.CreateSecret(ctx, &smpb.CreateSecretRequest{
		Parent:   "projects/" + p.cfg.ProjectID,
		SecretId: secretID,
		Secret: &smpb.Secret{
			Replication: &smpb.Replication{
				Replication: &smpb.Replication_Automatic_{
					Automatic: &smpb.Replication_Automatic{},
				},
			},
			Labels: map[string]string{"purpose": "model-wallet"},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return "", fmt.Errorf("create secret %s: %w", secretID, err)
	}

	version, err := p.client.AddSecretVersion(ctx, &smpb.AddSecretVersionRequest{
		Parent:  secretName,
		Payload: &smpb.SecretPayload{Data: []byte(account.SeedHex())},
	})
	if err != nil {
		return "", fmt.Errorf("add secret version %s: %w", secretID, err)
	}

	p.cache.Add(version.GetName(), aptos.Signer(account))
	p.logger.WithFields(logrus.Fields{
		"address": account.Address(),
		"secret":  secretID,
	}).Info("stored custodial key")

	return version.GetName(), nil
}

func (p *SecretManagerProvider) versionName(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrEmptyRef
	}
	if strings.HasPrefix(ref, "projects/") {
		if !strings.Contains(ref, "/versions/") {
			ref += "/versions/latest"
		}
		return ref, nil
	}

	addr, err := aptos.NormalizeAddress(ref)
	if err != nil {
		return "", fmt.Errorf("resolve key reference: %w", err)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", p.cfg.ProjectID, p.secretID(addr)), nil
}

func (p *SecretManagerProvider) secretID(address string) string {
	return p.cfg.SecretPrefix + strings.TrimPrefix(strings.ToLower(address), "0x")
}
