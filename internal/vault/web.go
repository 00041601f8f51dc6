package vault

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/internal/progress"
	"github.com/ferryhill/haul/internal/safepath"
)

// maxIndexBytes bounds how much index document the vault will read.
const maxIndexBytes = 32 << 20

// Web is a vault backed by an HTTP index: one document enumerating the
// collection, plus one URL per asset. Content lands under a local
// destination root keyed by asset ID.
//
// The index is YAML (or JSON, which YAML subsumes):
//
//	assets:
//	  - id: 2019/06/beach.jpg
//	    kind: photo
//	    createdAt: 2019-06-01T12:00:00Z
//	    size: 4194304
//	    url: /blobs/beach.jpg
//	    sha256: 2c26b46b...
//
// kind falls back to the ID's extension, url to the ID resolved
// against the index URL, and sha256 is optional; when present the
// transfer is rejected on mismatch.
type Web struct {
	config
	indexURL *url.URL
	destRoot string

	mu      sync.Mutex
	entries []webEntry
	byID    map[string]int
}

var (
	_ haul.CatalogProvider      = (*Web)(nil)
	_ haul.TransportProvider    = (*Web)(nil)
	_ haul.AvailabilityProvider = (*Web)(nil)
)

type indexDoc struct {
	Assets []webEntry `yaml:"assets"`
}

type webEntry struct {
	ID        string    `yaml:"id"`
	Kind      string    `yaml:"kind"`
	CreatedAt time.Time `yaml:"createdAt"`
	Size      int64     `yaml:"size"`
	URL       string    `yaml:"url"`
	SHA256    string    `yaml:"sha256"`

	// derived during validation
	kind haul.MediaKind
	ref  *url.URL
	dig  digest.Digest
}

// NewWeb builds a web vault over the index at indexURL, writing
// retrieved content under destRoot.
func NewWeb(indexURL, destRoot string, opts ...Option) (*Web, error) {
	if destRoot == "" {
		return nil, fmt.Errorf("destination root is required")
	}
	u, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported vault scheme %q", u.Scheme)
	}

	w := &Web{config: defaultConfig(), indexURL: u, destRoot: destRoot}
	for _, opt := range opts {
		if err := opt(&w.config); err != nil {
			return nil, err
		}
	}
	if w.client == nil {
		w.client = &http.Client{}
	}
	return w, nil
}

// Assets fetches and validates the index on first use, then yields its
// entries filtered and ordered per q.
func (w *Web) Assets(ctx context.Context, q haul.Query) (haul.AssetIterator, error) {
	if err := w.ensureIndex(ctx); err != nil {
		return nil, err
	}

	w.mu.Lock()
	assets := make([]haul.Asset, 0, len(w.entries))
	for _, e := range w.entries {
		if q.Kind != "" && e.kind != q.Kind {
			continue
		}
		assets = append(assets, haul.Asset{
			ID:        e.ID,
			Kind:      e.kind,
			CreatedAt: e.CreatedAt,
			Size:      e.Size,
		})
	}
	w.mu.Unlock()

	sortAssets(assets, q.Sort)
	return haul.NewSliceIterator(assets), nil
}

// ensureIndex loads the index document once. Validation is strict: an
// index that names unsafe paths or duplicate IDs is rejected outright
// rather than partially honored.
func (w *Web) ensureIndex(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.byID != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.indexURL.String(), nil)
	if err != nil {
		return fmt.Errorf("build index request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch index %s: unexpected status %s", w.indexURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBytes))
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	var doc indexDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", haul.ErrBadIndex, err)
	}

	byID := make(map[string]int, len(doc.Assets))
	for i := range doc.Assets {
		e := &doc.Assets[i]
		if err := w.resolveEntry(e); err != nil {
			return fmt.Errorf("%w: asset %d: %v", haul.ErrBadIndex, i, err)
		}
		if _, ok := byID[e.ID]; ok {
			return fmt.Errorf("%w: duplicate asset id %q", haul.ErrBadIndex, e.ID)
		}
		byID[e.ID] = i
	}

	w.entries, w.byID = doc.Assets, byID
	w.logger.Debug("index loaded", "url", w.indexURL.String(), "assets", len(w.entries))
	return nil
}

// resolveEntry validates one index entry and fills its derived fields.
func (w *Web) resolveEntry(e *webEntry) error {
	if e.ID == "" {
		return fmt.Errorf("missing id")
	}
	if err := safepath.Check(e.ID); err != nil {
		return err
	}

	kind, err := haul.ParseMediaKind(e.Kind)
	if err != nil {
		return err
	}
	if kind == "" {
		var ok bool
		if kind, ok = kindForPath(e.ID); !ok {
			return fmt.Errorf("no kind for %q and extension is not media", e.ID)
		}
	}
	e.kind = kind

	rawRef := e.URL
	if rawRef == "" {
		rawRef = e.ID
	}
	ref, err := url.Parse(rawRef)
	if err != nil {
		return fmt.Errorf("parse url for %q: %w", e.ID, err)
	}
	e.ref = w.indexURL.ResolveReference(ref)

	if e.SHA256 != "" {
		d, err := parseDigest(e.SHA256)
		if err != nil {
			return fmt.Errorf("digest for %q: %w", e.ID, err)
		}
		e.dig = d
	}
	return nil
}

// parseDigest accepts a bare hex sha256 or a canonical
// "sha256:<hex>" digest string.
func parseDigest(s string) (digest.Digest, error) {
	if !strings.Contains(s, ":") {
		s = string(digest.SHA256) + ":" + s
	}
	d, err := digest.Parse(s)
	if err != nil {
		return "", err
	}
	if d.Algorithm() != digest.SHA256 {
		return "", fmt.Errorf("unsupported digest algorithm %q", d.Algorithm())
	}
	return d, nil
}

// Fetch streams one asset's content to its destination path, verifying
// the index digest when one was published. A mismatch discards the
// staging file and fails the attempt.
func (w *Web) Fetch(ctx context.Context, a haul.Asset, fn haul.ProgressFunc) (haul.FetchResult, error) {
	if err := w.ensureIndex(ctx); err != nil {
		return haul.FetchResult{}, err
	}
	entry, ok := w.entry(a.ID)
	if !ok {
		return haul.FetchResult{}, fmt.Errorf("asset %q not in index: %w", a.ID, haul.ErrNotFound)
	}
	destPath, err := safepath.Join(w.destRoot, a.ID)
	if err != nil {
		return haul.FetchResult{}, fmt.Errorf("destination path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.ref.String(), nil)
	if err != nil {
		return haul.FetchResult{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return haul.FetchResult{}, fmt.Errorf("fetch %s: %w", a.ID, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return haul.FetchResult{}, fmt.Errorf("fetch %s: %w", a.ID, haul.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return haul.FetchResult{}, fmt.Errorf("fetch %s: unexpected status %s", a.ID, resp.Status)
	}

	total := entry.Size
	if total == 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	var digester digest.Digester
	if entry.dig != "" {
		digester = digest.SHA256.Digester()
	}

	start := time.Now()
	var copied int64
	pr := progress.NewReader(resp.Body, total, w.chunk, progressFor(total, fn))
	err = stage(w.fs, destPath, func(f io.Writer) error {
		dst := f
		if digester != nil {
			dst = io.MultiWriter(f, digester.Hash())
		}
		n, copyErr := copyChunks(ctx, dst, pr, make([]byte, w.chunk))
		copied = n
		if copyErr != nil {
			return copyErr
		}
		if digester != nil && digester.Digest() != entry.dig {
			return fmt.Errorf("verify %s: got %s, want %s: %w",
				a.ID, digester.Digest(), entry.dig, haul.ErrChecksumMismatch)
		}
		return nil
	})
	if err != nil {
		return haul.FetchResult{}, err
	}

	w.logger.Debug("asset downloaded", "asset", a.ID, "bytes", copied)
	return haul.FetchResult{Bytes: copied, Duration: time.Since(start)}, nil
}

func (w *Web) entry(id string) (webEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, ok := w.byID[id]
	if !ok {
		return webEntry{}, false
	}
	return w.entries[i], true
}

// IsLocal reports whether the asset's destination file already holds
// the full content. It never touches the network.
func (w *Web) IsLocal(ctx context.Context, a haul.Asset) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	destPath, err := safepath.Join(w.destRoot, a.ID)
	if err != nil {
		return false, fmt.Errorf("destination path: %w", err)
	}
	return confirmLocal(w.fs, destPath, a.Size, w.minConfirm)
}
