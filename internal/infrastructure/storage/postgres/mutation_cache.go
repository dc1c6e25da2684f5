package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the payload size above which mutation payloads are
// stored zstd-compressed.
const compressThreshold = 10 * 1024

// MutationCache stores raw source mutation payloads keyed by mutation id.
// Large payloads are compressed; the compression_algo column records how a
// row was stored so reads stay correct if the threshold changes.
type MutationCache struct {
	pool    *Pool
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewMutationCache creates a MutationCache.
func NewMutationCache(pool *Pool) (*MutationCache, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &MutationCache{pool: pool, encoder: encoder, decoder: decoder}, nil
}

// Put stores or refreshes the payload for a mutation id.
func (c *MutationCache) Put(ctx context.Context, mutationID int64, payload []byte) error {
	algo := "none"
	stored := payload
	if len(payload) > compressThreshold {
		algo = "zstd"
		stored = c.encoder.EncodeAll(payload, nil)
	}

	_, err := c.pool.Exec(ctx, `
		INSERT INTO mutation_cache (mutation_id, payload, compression_algo, cached_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (mutation_id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    compression_algo = EXCLUDED.compression_algo,
		    cached_at = EXCLUDED.cached_at`,
		mutationID, stored, algo)
	if err != nil {
		return fmt.Errorf("cache mutation %d: %w", mutationID, err)
	}
	return nil
}

// Get returns the payload for a mutation id, reporting whether it was found.
func (c *MutationCache) Get(ctx context.Context, mutationID int64) ([]byte, bool, error) {
	var stored []byte
	var algo string
	err := c.pool.QueryRow(ctx,
		"SELECT payload, compression_algo FROM mutation_cache WHERE mutation_id = $1",
		mutationID).Scan(&stored, &algo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached mutation %d: %w", mutationID, err)
	}

	if algo == "zstd" {
		payload, err := c.decoder.DecodeAll(stored, nil)
		if err != nil {
			return nil, false, fmt.Errorf("decompress cached mutation %d: %w", mutationID, err)
		}
		return payload, true, nil
	}
	return stored, true, nil
}

// Has reports whether a payload is cached for the mutation id.
func (c *MutationCache) Has(ctx context.Context, mutationID int64) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM mutation_cache WHERE mutation_id = $1)",
		mutationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check cached mutation %d: %w", mutationID, err)
	}
	return exists, nil
}

// Invalidate removes the cached payload for a mutation id.
func (c *MutationCache) Invalidate(ctx context.Context, mutationID int64) error {
	_, err := c.pool.Exec(ctx, "DELETE FROM mutation_cache WHERE mutation_id = $1", mutationID)
	if err != nil {
		return fmt.Errorf("invalidate cached mutation %d: %w", mutationID, err)
	}
	return nil
}
