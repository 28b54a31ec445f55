package panel

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rendis/authflow/internal/diagram"
)

const (
	imageCacheSize = 128
	imageCacheTTL  = 10 * time.Minute
)

// imageCache holds rendered PNG diagrams. A PNG only depends on the flow
// definition and the active step, so entries are keyed by flow id, registry
// revision and active index.
type imageCache struct {
	entries *lru.LRU[string, []byte]
	render  func(context.Context, *diagram.SequenceModel) ([]byte, error)
}

func newImageCache() *imageCache {
	return &imageCache{
		entries: lru.NewLRU[string, []byte](imageCacheSize, nil, imageCacheTTL),
		render:  diagram.RenderImage,
	}
}

// get returns the PNG for model, rendering it on a miss. hit reports whether
// the cache served it.
func (c *imageCache) get(ctx context.Context, model *diagram.SequenceModel, revision uint64) (png []byte, hit bool, err error) {
	key := fmt.Sprintf("%s#%d@%d", model.FlowID, revision, model.ActiveIndex)
	if png, ok := c.entries.Get(key); ok {
		return png, true, nil
	}
	png, err = c.render(ctx, model)
	if err != nil {
		return nil, false, err
	}
	c.entries.Add(key, png)
	return png, false, nil
}

func (c *imageCache) len() int { return c.entries.Len() }
