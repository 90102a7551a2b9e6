package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// DefaultMaxPageSize is the server-side cap on page sizes.
const DefaultMaxPageSize = 50

// Request is one call of the pagination contract. A non-empty PageToken
// takes precedence over Filters, Sort and Limit.
type Request struct {
	Filters   Filters
	Sort      *SortKey
	Limit     int
	PageToken string
}

// Page is one page of results. NextPageToken is empty on the last page.
type Page struct {
	Nodes         []*models.Node
	NextPageToken string
}

// Finder drives keyset pagination over a NodeStore. It keeps no state
// between calls.
type Finder struct {
	store       NodeStore
	maxPageSize int
}

// NewFinder creates a finder. A non-positive maxPageSize selects DefaultMaxPageSize.
func NewFinder(store NodeStore, maxPageSize int) *Finder {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return &Finder{store: store, maxPageSize: maxPageSize}
}

// MaxPageSize returns the page size cap.
func (f *Finder) MaxPageSize() int { return f.maxPageSize }

// Find returns a page of nodes visible to userID.
func (f *Finder) Find(ctx context.Context, userID string, req Request) (*Page, error) {
	if userID == "" {
		return nil, errors.New("find: empty user id")
	}
	return f.find(ctx, UserScope(userID), req)
}

// FindPublic returns a page of the subtree under a link-shared folder. The
// caller must already have checked that the folder has a usable link.
func (f *Finder) FindPublic(ctx context.Context, folderID string, limit int, pageToken string) (*Page, error) {
	if folderID == "" {
		return nil, errors.New("find public: empty folder id")
	}
	return f.find(ctx, LinkScope(folderID), Request{Limit: limit, PageToken: pageToken})
}

func (f *Finder) find(ctx context.Context, scope Scope, req Request) (*Page, error) {
	if scope.Anonymous() {
		ctx = logging.WithFields(ctx, zap.String("linked_folder_id", scope.FolderID))
	} else {
		ctx = logging.WithFields(ctx, zap.String("user_id", scope.UserID))
	}
	log := logging.WithContext(ctx)

	kind := "first"
	var q PageQuery
	if req.PageToken != "" {
		kind = "continuation"
		decoded, err := DecodeToken(req.PageToken)
		if err != nil {
			metrics.RecordPageTokenRejected()
			metrics.RecordSearchPage(kind, 0, err)
			log.Debug("page token rejected", zap.Error(err))
			return nil, err
		}
		q = decoded
		q.Limit = f.clamp(q.Limit)
	} else {
		q = NewPageQuery(req.Filters, req.Sort, f.clamp(req.Limit))
	}
	if scope.Anonymous() {
		kind = "public"
	}

	query := Compose(scope, q)
	rows, err := f.store.FindNodes(ctx, query)
	if err != nil {
		metrics.RecordSearchPage(kind, 0, err)
		return nil, err
	}

	page := &Page{Nodes: rows}
	if scope.Anonymous() {
		page.Nodes = f.contain(ctx, rows, scope.FolderID)
	}

	// A full page may be followed by more rows; the next page can also be
	// empty when the remainder is exactly zero.
	if len(rows) == q.Limit && len(rows) > 0 {
		token, err := f.mint(q, rows[len(rows)-1])
		if err != nil {
			metrics.RecordSearchPage(kind, 0, err)
			return nil, err
		}
		page.NextPageToken = token
		metrics.RecordPageTokenMinted()
	}

	metrics.RecordSearchPage(kind, len(page.Nodes), nil)
	log.Debug("search page served", logging.Page(logging.PageSummary{
		Kind:    kind,
		Limit:   q.Limit,
		Sort:    sortName(q.SortKey),
		Rows:    len(page.Nodes),
		Dropped: len(rows) - len(page.Nodes),
		HasNext: page.NextPageToken != "",
	}))
	return page, nil
}

func (f *Finder) clamp(limit int) int {
	if limit <= 0 || limit > f.maxPageSize {
		return f.maxPageSize
	}
	return limit
}

// mint encodes the continuation of q after last. The keyset is derived from
// the last row the store returned, so a page shortened by the containment
// check still advances.
func (f *Finder) mint(q PageQuery, last *models.Node) (string, error) {
	keyset, err := BuildKeyset(q.Sequence, last)
	if err != nil {
		return "", fmt.Errorf("mint page token: %w", err)
	}
	return EncodeToken(PageQuery{
		Limit:    q.Limit,
		SortKey:  q.SortKey,
		Sequence: q.Sequence,
		Keyset:   keyset,
		Filters:  q.Filters,
	})
}

// contain drops every node outside folderID's subtree. Dropped nodes are not
// replaced, so the page may come back short.
func (f *Finder) contain(ctx context.Context, nodes []*models.Node, folderID string) []*models.Node {
	kept := make([]*models.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.HasAncestor(folderID) {
			kept = append(kept, n)
			continue
		}
		logging.WithContext(ctx).Warn("node outside linked folder dropped from page",
			zap.String("node_id", n.ID))
	}
	if dropped := len(nodes) - len(kept); dropped > 0 {
		metrics.RecordContainmentDrops(dropped)
	}
	return kept
}

func sortName(k *SortKey) string {
	if k == nil {
		return "default"
	}
	return k.String()
}
