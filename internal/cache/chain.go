package cache

import "context"

// Chain consults tiers in order. A hit in a later tier is copied into the
// earlier ones; Set writes every tier.
type Chain []Cache

func (c Chain) Get(ctx context.Context, key string) ([]byte, bool) {
	for i, tier := range c {
		if data, ok := tier.Get(ctx, key); ok {
			for _, earlier := range c[:i] {
				earlier.Set(ctx, key, data)
			}
			return data, true
		}
	}
	return nil, false
}

func (c Chain) Set(ctx context.Context, key string, val []byte) {
	for _, tier := range c {
		tier.Set(ctx, key, val)
	}
}
