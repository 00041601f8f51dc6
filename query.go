package haul

import (
	"fmt"
	"strings"
)

// Sort selects the order in which the catalog yields assets.
type Sort string

const (
	// SortOldest orders by creation time, oldest first. The default.
	SortOldest Sort = "oldest"
	// SortNewest orders by creation time, newest first.
	SortNewest Sort = "newest"
	// SortSmallest orders by size ascending. Catalogs must make a full
	// pass to learn sizes before yielding anything.
	SortSmallest Sort = "smallest"
	// SortLargest orders by size descending.
	SortLargest Sort = "largest"
	// SortRandom shuffles the full asset list.
	SortRandom Sort = "random"
)

// ParseSort maps a user-supplied sort name to a Sort. The empty string
// means SortOldest.
func ParseSort(s string) (Sort, error) {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return SortOldest, nil
	case SortOldest, SortNewest, SortSmallest, SortLargest, SortRandom:
		return Sort(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", fmt.Errorf("unknown sort order %q (want oldest, newest, smallest, largest, or random)", s)
	}
}

// Query narrows and orders a catalog enumeration.
type Query struct {
	// Kind filters to one media kind; the zero value selects all.
	Kind MediaKind
	// Sort is the yield order; the zero value means SortOldest.
	Sort Sort
}
