// Package cache stores encoded analysis results keyed by operation,
// parameters and polygon fingerprint. Tiers are optional and best-effort:
// a cache failure is logged and treated as a miss.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"go.uber.org/zap"
)

// Cache is one result store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

// Key derives a stable key from an operation name and its inputs. Parts are
// length-prefixed so ("ab","c") and ("a","bc") differ.
func Key(op string, parts ...string) string {
	h := sha256.New()
	write := func(s string) {
		var n [8]byte
		l := uint64(len(s))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write(op)
	for _, p := range parts {
		write(p)
	}
	return op + ":" + hex.EncodeToString(h.Sum(nil))
}

// GetJSON decodes a cached value into dst, keeping numbers in untyped
// fields as json.Number. A nil cache always misses.
func GetJSON(ctx context.Context, c Cache, key string, dst any) bool {
	if c == nil {
		return false
	}
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		zap.L().Warn("cache: discarding undecodable entry",
			zap.String("component", "cache"),
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return true
}

// SetJSON encodes v and stores it. A nil cache is a no-op.
func SetJSON(ctx context.Context, c Cache, key string, v any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("cache: encode value", zap.String("component", "cache"), zap.Error(err))
		return
	}
	c.Set(ctx, key, data)
}
