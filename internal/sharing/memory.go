package sharing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// MemoryLinkStore keeps links in process memory.
type MemoryLinkStore struct {
	mu    sync.RWMutex
	links map[string]*models.Link
	now   func() time.Time
}

var _ Links = (*MemoryLinkStore)(nil)

// NewMemoryLinkStore returns an empty in-memory link store.
func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{
		links: make(map[string]*models.Link),
		now:   time.Now,
	}
}

func (s *MemoryLinkStore) Create(ctx context.Context, nodeID, createdBy, password string, expiresIn time.Duration) (*models.Link, error) {
	link, err := newLink(nodeID, createdBy, password, expiresIn, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.links[link.ID] = link
	s.mu.Unlock()

	s.updateActiveCount()
	out := *link
	return &out, nil
}

func (s *MemoryLinkStore) ActiveLinkForNode(ctx context.Context, nodeID, password string) (*models.Link, error) {
	s.mu.RLock()
	var links []*models.Link
	for _, l := range s.links {
		if l.NodeID == nodeID {
			c := *l
			links = append(links, &c)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(links, func(a, b *models.Link) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return pickLink(links, password, s.now())
}

func (s *MemoryLinkStore) Get(ctx context.Context, linkID string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[linkID]
	if !ok {
		return nil, ErrLinkNotFound
	}
	out := *l
	return &out, nil
}

func (s *MemoryLinkStore) Revoke(ctx context.Context, linkID string) error {
	s.mu.Lock()
	l, ok := s.links[linkID]
	if ok {
		l.IsActive = false
	}
	s.mu.Unlock()

	if !ok {
		return ErrLinkNotFound
	}
	s.updateActiveCount()
	return nil
}

func (s *MemoryLinkStore) updateActiveCount() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var n int64
	for _, l := range s.links {
		if l.Usable(now) {
			n++
		}
	}
	metrics.SetShareLinksActive(n)
}
