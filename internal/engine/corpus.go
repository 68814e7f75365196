package engine

import (
	"context"
	"errors"
	"time"

	"github.com/example/lostfound/internal/features"
)

var (
	// ErrNotFound is returned by CorpusProvider.Read when the image bytes are gone.
	ErrNotFound = errors.New("corpus image not found")
	// ErrAlreadyClaimed is returned by CorpusProvider.Claim when another caller consumed the entry first.
	ErrAlreadyClaimed = errors.New("corpus entry already claimed")
)

// Entry is a stored lost-item report.
type Entry struct {
	ID        uint
	Path      string
	Phone     string
	CreatedAt time.Time
}

// CorpusProvider is the shared store of lost-item reports.
type CorpusProvider interface {
	// List returns every current entry in a stable order.
	List(ctx context.Context) ([]Entry, error)
	// Read returns the image bytes at the entry's relative path, or ErrNotFound.
	Read(ctx context.Context, relPath string) ([]byte, error)
	// Claim deletes the entry if it is still present and returns the deleted
	// record. Exactly one concurrent caller succeeds; the rest get ErrAlreadyClaimed.
	Claim(ctx context.Context, id uint) (Entry, error)
}

// DescriptorCache stores candidate descriptors keyed by entry identity and family.
// Identity is the id together with the stored path, so a reused id never
// reads another report's descriptors. Implementations must treat every
// failure as a miss.
type DescriptorCache interface {
	Get(ctx context.Context, entry Entry, family features.Family) (features.DescriptorSet, bool)
	Put(ctx context.Context, entry Entry, set features.DescriptorSet)
	Invalidate(ctx context.Context, entry Entry)
}

type noCache struct{}

func (noCache) Get(context.Context, Entry, features.Family) (features.DescriptorSet, bool) {
	return features.DescriptorSet{}, false
}
func (noCache) Put(context.Context, Entry, features.DescriptorSet) {}
func (noCache) Invalidate(context.Context, Entry)                  {}
