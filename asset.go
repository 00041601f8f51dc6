package haul

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind classifies an asset as a photo or a video.
type MediaKind string

const (
	KindPhoto MediaKind = "photo"
	KindVideo MediaKind = "video"
)

// ParseMediaKind maps a user-supplied kind filter to a MediaKind.
// "all" and the empty string select every kind (the zero MediaKind).
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return "", nil
	case "photo", "photos":
		return KindPhoto, nil
	case "video", "videos":
		return KindVideo, nil
	default:
		return "", fmt.Errorf("unknown media kind %q (want photo, video, or all)", s)
	}
}

// Asset is one item in the vault's collection. The engine references
// assets, it never owns them: all persistent state is keyed by ID.
type Asset struct {
	// ID is the stable identifier unique within the vault.
	ID string
	// Kind is the media classification.
	Kind MediaKind
	// CreatedAt is the asset's creation timestamp, used for ordering.
	CreatedAt time.Time
	// Size is the content size in bytes when known, 0 otherwise.
	Size int64
}
