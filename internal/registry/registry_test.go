package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pebblemesh/beacon/internal/registry"
	"github.com/pebblemesh/beacon/internal/types"
)

func printerInstance() types.Instance {
	return types.Instance{
		Name:     "printer._homecast._tcp.local",
		Port:     8080,
		Metadata: map[string]string{"color": "black"},
	}
}

func TestRegister_IdempotentAndLookup(t *testing.T) {
	r := registry.New()
	inst := printerInstance()

	require.NoError(t, r.Register(inst))
	require.NoError(t, r.Register(inst)) // idempotent

	names, err := r.InstanceNames(inst.ServiceType())
	require.NoError(t, err)
	assert.Equal(t, []string{inst.Name}, names)

	got, err := r.Instance(inst.Name)
	require.NoError(t, err)
	assert.Equal(t, inst, got)
}

func TestRegister_InvalidInstanceRejected(t *testing.T) {
	r := registry.New()
	err := r.Register(types.Instance{Name: "bad name", Port: 1})
	assert.Error(t, err)
}

func TestUnregister_RemovesEmptyBucket(t *testing.T) {
	r := registry.New()
	inst := printerInstance()
	require.NoError(t, r.Register(inst))

	require.NoError(t, r.Unregister(inst))

	_, err := r.InstanceNames(inst.ServiceType())
	assert.Error(t, err)
}

func TestInstanceNames_UnknownServiceType(t *testing.T) {
	r := registry.New()
	_, err := r.InstanceNames("_nope._tcp.local")
	assert.Error(t, err)
}

func TestServiceTypes(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(printerInstance()))
	require.NoError(t, r.Register(types.Instance{Name: "scanner._homecast._tcp.local", Port: 80}))
	require.NoError(t, r.Register(types.Instance{Name: "nas._storage._tcp.local", Port: 445}))

	serviceTypes := r.ServiceTypes()
	assert.ElementsMatch(t, []string{"_homecast._tcp.local", "_storage._tcp.local"}, serviceTypes)
}
