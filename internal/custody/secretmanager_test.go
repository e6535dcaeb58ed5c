package custody

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"testing"

	smpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"model-token-engine/internal/aptos"
)

// fakeSecrets is an in-memory secretClient.
type fakeSecrets struct {
	secrets  map[string][][]byte // secret name -> versions
	accesses int
	creates  int
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{secrets: make(map[string][][]byte)}
}

func (f *fakeSecrets) AccessSecretVersion(_ context.Context, req *smpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*smpb.AccessSecretVersionResponse, error) {
	f.accesses++
	idx := strings.Index(req.Name, "/versions/")
	secret, version := req.Name[:idx], req.Name[idx+len("/versions/"):]

	versions, ok := f.secrets[secret]
	if !ok || len(versions) == 0 {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	data := versions[len(versions)-1]
	if version != "latest" {
		var n int
		if _, err := fmt.Sscanf(version, "%d", &n); err != nil || n < 1 || n > len(versions) {
			return nil, status.Error(codes.NotFound, "version not found")
		}
		data = versions[n-1]
	}
	return &smpb.AccessSecretVersionResponse{Name: req.Name, Payload: &smpb.SecretPayload{Data: data}}, nil
}

func (f *fakeSecrets) CreateSecret(_ context.Context, req *smpb.CreateSecretRequest, _ ...gax.CallOption) (*smpb.Secret, error) {
	f.creates++
	name := req.Parent + "/secrets/" + req.SecretId
	if _, ok := f.secrets[name]; ok {
		return nil, status.Error(codes.AlreadyExists, "exists")
	}
	f.secrets[name] = nil
	return &smpb.Secret{Name: name}, nil
}

func (f *fakeSecrets) AddSecretVersion(_ context.Context, req *smpb.AddSecretVersionRequest, _ ...gax.CallOption) (*smpb.SecretVersion, error) {
	if _, ok := f.secrets[req.Parent]; !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	f.secrets[req.Parent] = append(f.secrets[req.Parent], req.Payload.Data)
	return &smpb.SecretVersion{Name: fmt.Sprintf("%s/versions/%d", req.Parent, len(f.secrets[req.Parent]))}, nil
}

func (f *fakeSecrets) Close() error { return nil }

func newTestProvider(t *testing.T, client secretClient) *SecretManagerProvider {
	t.Helper()
	p, err := newSecretManagerProvider(client, SecretManagerConfig{ProjectID: "proj", CacheSize: 4}, logrus.New())
	require.NoError(t, err)
	return p
}

func TestSecretManagerProvider_StoreAndResolve(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecrets()
	p := newTestProvider(t, fake)

	account, err := aptos.GenerateAccount(rand.Reader)
	require.NoError(t, err)

	ref, err := p.Store(ctx, account)
	require.NoError(t, err)
	wantSecret := "projects/proj/secrets/model-wallet-" + strings.TrimPrefix(account.Address(), "0x")
	assert.Equal(t, wantSecret+"/versions/1", ref)

	// Served from cache after Store.
	signer, err := p.Signer(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, account.Address(), signer.Address())
	assert.Equal(t, 0, fake.accesses)

	// Address references resolve to the latest version.
	byAddr, err := p.Signer(ctx, account.Address())
	require.NoError(t, err)
	assert.Equal(t, account.Address(), byAddr.Address())
	assert.Equal(t, 1, fake.accesses)

	_, err = p.Signer(ctx, account.Address())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.accesses, "second lookup should hit the cache")

	// A secret without a version suffix reads latest.
	bare, err := p.Signer(ctx, wantSecret)
	require.NoError(t, err)
	assert.Equal(t, account.Address(), bare.Address())
}

func TestSecretManagerProvider_StoreExistingSecret(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecrets()
	p := newTestProvider(t, fake)

	account, err := aptos.GenerateAccount(rand.Reader)
	require.NoError(t, err)

	_, err = p.Store(ctx, account)
	require.NoError(t, err)
	ref, err := p.Store(ctx, account)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(ref, "/versions/2"))
	assert.Equal(t, 2, fake.creates)
}

func TestSecretManagerProvider_Errors(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSecrets())

	_, err := p.Signer(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = p.Signer(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyRef)

	_, err = p.Signer(ctx, "not-an-address")
	assert.ErrorIs(t, err, aptos.ErrInvalidAddress)

	_, err = newSecretManagerProvider(newFakeSecrets(), SecretManagerConfig{}, logrus.New())
	assert.Error(t, err)
}
