package sandbox_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nugget-digital/momo/internal/momotest"
	"github.com/nugget-digital/momo/sandbox"
)

func TestProvision(t *testing.T) {
	srv := momotest.NewServer("sub-key", "", "")
	defer srv.Close()

	p := sandbox.NewProvisioner(srv.URL(), "sub-key", srv.Client())

	creds, err := p.Provision(context.Background(), "pay.example.com")
	require.NoError(t, err)

	require.Equal(t, "sub-key", creds.SubscriptionKey)

	_, err = uuid.Parse(creds.APIUser)
	require.NoError(t, err)

	key, ok := srv.SandboxKey(creds.APIUser)
	require.True(t, ok)
	require.Equal(t, key, creds.APIKey)
	require.NotEmpty(t, creds.APIKey)
}

func TestProvision_WrongSubscriptionKey(t *testing.T) {
	srv := momotest.NewServer("sub-key", "", "")
	defer srv.Close()

	p := sandbox.NewProvisioner(srv.URL(), "other-key", srv.Client())

	_, err := p.Provision(context.Background(), "pay.example.com")
	require.Error(t, err)
}

func TestProvision_UnreachablePlatform(t *testing.T) {
	srv := momotest.NewServer("sub-key", "", "")
	srv.Close()

	p := sandbox.NewProvisioner(srv.URL(), "sub-key", nil)

	_, err := p.Provision(context.Background(), "pay.example.com")
	require.Error(t, err)
}
