package haul

import (
	"context"
	"time"
)

// CatalogProvider enumerates the assets of a vault.
type CatalogProvider interface {
	// Assets returns an iterator over assets matching q, in q's sort
	// order. Size-based and random orders may force the provider to
	// materialize the full list internally; creation-time orders
	// should stream where the backing store allows it.
	Assets(ctx context.Context, q Query) (AssetIterator, error)
}

// AssetIterator yields assets one at a time. Implementations need not
// be safe for concurrent use; the engine consumes an iterator from a
// single goroutine.
type AssetIterator interface {
	// Next returns the next asset, or io.EOF when the sequence is
	// exhausted.
	Next(ctx context.Context) (Asset, error)
	// Close releases resources held by the iterator.
	Close() error
}

// FetchResult reports one completed transfer.
type FetchResult struct {
	// Bytes is the number of bytes written locally.
	Bytes int64
	// Duration is the wall-clock transfer time.
	Duration time.Duration
}

// TransportProvider performs one attempt to fetch one asset's full
// content.
type TransportProvider interface {
	// Fetch transfers the asset to local storage, honoring ctx for
	// cancellation and deadlines. The progress callback, when non-nil,
	// receives cumulative bytes and a 0..1 fraction (-1 when the total
	// is unknown); it feeds telemetry only, never decision logic.
	// Implementations must not leave partial content where the
	// availability probe would mistake it for the complete asset.
	Fetch(ctx context.Context, asset Asset, progress ProgressFunc) (FetchResult, error)
}

// AvailabilityProvider decides whether an asset's content is already
// fully present locally, without fetching it.
//
// Implementations must demand positive evidence of presence: a probe
// that merely succeeds while yielding no bytes proves nothing, so
// providers require a minimum confirmed byte count (an explicit,
// tunable threshold; 1 MiB by default in this module's vaults) or an
// exact size match when the true size is known. The engine calls
// IsLocal both to skip already-complete assets during the scan and to
// verify a transfer after its settle delay.
type AvailabilityProvider interface {
	IsLocal(ctx context.Context, asset Asset) (bool, error)
}

// StorageGuard reports local free capacity. The engine consults it
// before starting and between batches; insufficient space is a normal
// stop condition, never an error.
type StorageGuard interface {
	// FreeSpaceGB returns free space in binary gigabytes.
	FreeSpaceGB() float64
	// HasSufficientSpace reports whether free space is at or above
	// minGB. A floor of zero or less disables the check.
	HasSufficientSpace(minGB float64) bool
}
