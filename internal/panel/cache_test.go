package panel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/diagram"
)

func TestImageCache(t *testing.T) {
	c := newImageCache()
	calls := 0
	c.render = func(_ context.Context, m *diagram.SequenceModel) ([]byte, error) {
		calls++
		return []byte(m.FlowID), nil
	}
	ctx := context.Background()
	model := &diagram.SequenceModel{FlowID: "jwt-refresh", ActiveIndex: 2}

	png, hit, err := c.get(ctx, model, 1)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "jwt-refresh", string(png))

	_, hit, err = c.get(ctx, model, 1)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	// A new active step or a reloaded flow renders again.
	_, hit, _ = c.get(ctx, &diagram.SequenceModel{FlowID: "jwt-refresh", ActiveIndex: 3}, 1)
	assert.False(t, hit)
	_, hit, _ = c.get(ctx, model, 2)
	assert.False(t, hit)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, c.len())
}

func TestImageCache_ErrorNotCached(t *testing.T) {
	c := newImageCache()
	c.render = func(context.Context, *diagram.SequenceModel) ([]byte, error) {
		return nil, errors.New("boom")
	}
	_, _, err := c.get(context.Background(), &diagram.SequenceModel{FlowID: "x"}, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, c.len())
}
