package xbeacon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportRegistry(t *testing.T) {
	require.Error(t, RegisterTransport("", func(map[string]any) (Transport, error) { return nil, nil }))
	require.Error(t, RegisterTransport("nil-factory", nil))

	var seen map[string]any
	require.NoError(t, RegisterTransport("registry-test", func(cfg map[string]any) (Transport, error) {
		seen = cfg
		return &fakeTransport{}, nil
	}))
	tr, err := NewTransport("registry-test", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "v", seen["k"])
	require.NoError(t, tr.Close(context.Background()))

	_, err = NewTransport("carrier-pigeon", nil)
	var unknown ErrUnknownTransport
	require.True(t, errors.As(err, &unknown))
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestBuild_UsesRegisteredTransport(t *testing.T) {
	ft := &fakeTransport{}
	require.NoError(t, RegisterTransport("registry-build", func(map[string]any) (Transport, error) { return ft, nil }))

	a, err := NewAgentBuilder(testConfig()).WithTransport("registry-build", nil).WithClock(newFakeClock()).Build()
	require.NoError(t, err)
	a.Report(Observation{Category: CategoryBehavior, Name: "tap"})
	require.NoError(t, a.Flush(context.Background()))
	require.NoError(t, a.Teardown(context.Background()))

	assert.Len(t, ft.events(), 1)
	assert.True(t, ft.closed)

	_, err = NewAgentBuilder(testConfig()).WithTransport("missing", nil).Build()
	assert.Error(t, err)
}

func TestCodecRegistry(t *testing.T) {
	require.Error(t, RegisterCodec("", func() Codec { return JSONCodec{} }))
	require.Error(t, RegisterCodec("x", nil))
}
