package haul

import (
	"context"
	"io"
)

// NewSliceIterator returns an AssetIterator over a fixed slice.
// Catalogs that materialize their listing (size sorts, shuffles, small
// backends) wrap the result with it.
func NewSliceIterator(assets []Asset) AssetIterator {
	return &sliceIterator{assets: assets}
}

type sliceIterator struct {
	assets []Asset
	next   int
}

func (it *sliceIterator) Next(ctx context.Context) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	if it.next >= len(it.assets) {
		return Asset{}, io.EOF
	}
	a := it.assets[it.next]
	it.next++
	return a, nil
}

func (it *sliceIterator) Close() error { return nil }
