package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

func TestRegistry(t *testing.T) {
	second := models.Credentials{Username: "john@example.com", Password: "pw", MPRN: "10087654321"}
	src := newFakeSource()

	r, err := NewRegistry(4, src, []models.Credentials{testCreds, second})
	require.NoError(t, err)
	assert.Equal(t, []string{testCreds.MPRN, second.MPRN}, r.MPRNs())

	c1, err := r.Get(testCreds.MPRN)
	require.NoError(t, err)
	assert.Equal(t, testCreds, c1.Credentials())

	again, err := r.Get(testCreds.MPRN)
	require.NoError(t, err)
	assert.Same(t, c1, again)

	c2, err := r.Get(second.MPRN)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)

	_, err = r.Get("10000000000")
	assert.True(t, errors.Is(err, ErrUnknownMeter))
}

func TestRegistry_KeepsEveryCache(t *testing.T) {
	second := models.Credentials{Username: "john@example.com", Password: "pw", MPRN: "10087654321"}
	src := newFakeSource()

	_, err := NewRegistry(1, src, []models.Credentials{testCreds, second})
	assert.ErrorContains(t, err, "smaller than the 2 configured meters")

	r, err := NewRegistry(2, src, []models.Credentials{testCreds, second})
	require.NoError(t, err)

	c1, err := r.Get(testCreds.MPRN)
	require.NoError(t, err)
	_, err = c1.Fetch(context.Background())
	require.NoError(t, err)

	_, err = r.Get(second.MPRN)
	require.NoError(t, err)

	again, err := r.Get(testCreds.MPRN)
	require.NoError(t, err)
	assert.Same(t, c1, again)
	_, err = again.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(4, newFakeSource(), []models.Credentials{testCreds, testCreds})
	assert.ErrorContains(t, err, "duplicate meter")

	_, err = NewRegistry(0, newFakeSource(), []models.Credentials{testCreds})
	assert.Error(t, err)
}
