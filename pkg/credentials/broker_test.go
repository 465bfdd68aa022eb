package credentials_test

import (
	"context"
	"testing"

	"github.com/sawuapara/jarvis/pkg/credentials"
	"github.com/stretchr/testify/require"
)

type fakeStore map[string]string

func (f fakeStore) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := f[name]
	return v, ok, nil
}

func TestIsAllowedAllowList(t *testing.T) {
	require.True(t, credentials.IsAllowed("ANTHROPIC_API_KEY"))
	require.True(t, credentials.IsAllowed("OPENAI_API_KEY"))
	require.True(t, credentials.IsAllowed("GOOGLE_API_KEY"))
	require.True(t, credentials.IsAllowed("GEMINI_API_KEY"))
	require.False(t, credentials.IsAllowed("AWS_SECRET_ACCESS_KEY"))
}

func TestResolveReturnsKeyNotFound(t *testing.T) {
	_, err := credentials.Resolve(context.Background(), fakeStore{}, "ANTHROPIC_API_KEY")
	require.ErrorIs(t, err, credentials.ErrKeyNotFound)
}

func TestChainSecretStoreTriesNextOnMiss(t *testing.T) {
	chain := credentials.ChainSecretStore{
		Stores: []credentials.SecretStore{
			fakeStore{},
			fakeStore{"ANTHROPIC_API_KEY": "sk-test"},
		},
	}
	v, err := credentials.Resolve(context.Background(), chain, "ANTHROPIC_API_KEY")
	require.NoError(t, err)
	require.Equal(t, "sk-test", v)
}

func TestEnvSecretStoreFallback(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "env-value")
	v, ok, err := credentials.EnvSecretStore{}.Get(context.Background(), "GOOGLE_API_KEY")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "env-value", v)
}
