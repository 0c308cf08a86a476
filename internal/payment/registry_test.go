package payment

import (
	"testing"

	"github.com/smallbiznis/gigledger/internal/payment/domain"
	"github.com/smallbiznis/gigledger/internal/payment/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesByName(t *testing.T) {
	registry := NewRegistry(sandbox.NewFactory(nil, nil), nil)

	assert.True(t, registry.Exists(" Sandbox "))
	assert.False(t, registry.Exists("wallet"))

	p, err := registry.New("sandbox")
	require.NoError(t, err)
	assert.Equal(t, sandbox.Name, p.Name())

	_, err = registry.New("stripe")
	assert.ErrorIs(t, err, domain.ErrProcessorNotFound)

	var nilRegistry *Registry
	_, err = nilRegistry.New("sandbox")
	assert.ErrorIs(t, err, domain.ErrProcessorNotFound)
}
