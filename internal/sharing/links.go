// Package sharing manages public links that expose a folder subtree to
// anonymous callers.
package sharing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrLinkPassword = errors.New("link password required or invalid")
)

// hashCost is the bcrypt cost for link passwords.
var hashCost = bcrypt.DefaultCost

// Links creates and resolves public links.
type Links interface {
	Create(ctx context.Context, nodeID, createdBy, password string, expiresIn time.Duration) (*models.Link, error)
	// ActiveLinkForNode returns a usable link on nodeID that password opens.
	ActiveLinkForNode(ctx context.Context, nodeID, password string) (*models.Link, error)
	Get(ctx context.Context, linkID string) (*models.Link, error)
	Revoke(ctx context.Context, linkID string) error
}

func newLink(nodeID, createdBy, password string, expiresIn time.Duration, now time.Time) (*models.Link, error) {
	link := &models.Link{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		CreatedBy: createdBy,
		IsActive:  true,
		CreatedAt: now,
	}
	if expiresIn > 0 {
		t := now.Add(expiresIn)
		link.ExpiresAt = &t
	}
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		link.PasswordHash = string(hashed)
	}
	return link, nil
}

// pickLink returns the first usable link that password opens. Open links
// ignore the password.
func pickLink(links []*models.Link, password string, now time.Time) (*models.Link, error) {
	usable := false
	for _, l := range links {
		if !l.Usable(now) {
			continue
		}
		usable = true
		if l.PasswordHash == "" {
			return l, nil
		}
		if password != "" && bcrypt.CompareHashAndPassword([]byte(l.PasswordHash), []byte(password)) == nil {
			return l, nil
		}
	}
	if usable {
		return nil, ErrLinkPassword
	}
	return nil, ErrLinkNotFound
}

// LinkStore keeps links in PostgreSQL.
type LinkStore struct {
	db *sql.DB
}

var _ Links = (*LinkStore)(nil)

// NewLinkStore creates a link store over db.
func NewLinkStore(db *sql.DB) *LinkStore {
	return &LinkStore{db: db}
}

// Create creates a link on nodeID. A zero expiresIn never expires.
func (s *LinkStore) Create(ctx context.Context, nodeID, createdBy, password string, expiresIn time.Duration) (*models.Link, error) {
	link, err := newLink(nodeID, createdBy, password, expiresIn, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	var hash sql.NullString
	if link.PasswordHash != "" {
		hash = sql.NullString{String: link.PasswordHash, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO links (link_id, node_id, created_by, expires_at, password_hash, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6)`,
		link.ID, link.NodeID, link.CreatedBy, link.ExpiresAt, hash, link.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, fmt.Errorf("node %s: %w", nodeID, metadata.ErrNotFound)
		}
		return nil, fmt.Errorf("insert link: %w", err)
	}

	s.updateActiveCount(ctx)
	return link, nil
}

// ActiveLinkForNode returns a usable link on nodeID, newest first.
func (s *LinkStore) ActiveLinkForNode(ctx context.Context, nodeID, password string) (*models.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT link_id, node_id, created_by, expires_at, password_hash, is_active, created_at
		 FROM links
		 WHERE node_id = $1 AND is_active = TRUE AND (expires_at IS NULL OR expires_at > NOW())
		 ORDER BY created_at DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return pickLink(links, password, time.Now())
}

// Get returns a link by id, active or not.
func (s *LinkStore) Get(ctx context.Context, linkID string) (*models.Link, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT link_id, node_id, created_by, expires_at, password_hash, is_active, created_at
		 FROM links WHERE link_id = $1`, linkID)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

func scanLink(row interface{ Scan(...any) error }) (*models.Link, error) {
	var l models.Link
	var expiresAt sql.NullTime
	var hash sql.NullString
	if err := row.Scan(&l.ID, &l.NodeID, &l.CreatedBy, &expiresAt, &hash, &l.IsActive, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan link: %w", err)
	}
	if expiresAt.Valid {
		l.ExpiresAt = &expiresAt.Time
	}
	l.PasswordHash = hash.String
	return &l, nil
}

// Revoke deactivates a link.
func (s *LinkStore) Revoke(ctx context.Context, linkID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE links SET is_active = FALSE WHERE link_id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("revoke link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLinkNotFound
	}
	s.updateActiveCount(ctx)
	return nil
}

func (s *LinkStore) updateActiveCount(ctx context.Context) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM links WHERE is_active = TRUE AND (expires_at IS NULL OR expires_at > NOW())`).
		Scan(&count)
	if err == nil {
		metrics.SetShareLinksActive(count)
	}
}
