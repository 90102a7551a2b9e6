package sharing

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

func init() {
	hashCost = bcrypt.MinCost
}

func TestPickLink(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	locked, err := newLink("f", "u1", "s3cret", 0, now)
	if err != nil {
		t.Fatal(err)
	}
	open := &models.Link{ID: "open", NodeID: "f", IsActive: true}
	expired := &models.Link{ID: "expired", NodeID: "f", IsActive: true, ExpiresAt: &past}
	revoked := &models.Link{ID: "revoked", NodeID: "f", IsActive: false}
	timed := &models.Link{ID: "timed", NodeID: "f", IsActive: true, ExpiresAt: &future}

	tests := []struct {
		name     string
		links    []*models.Link
		password string
		want     string
		err      error
	}{
		{"none", nil, "", "", ErrLinkNotFound},
		{"open", []*models.Link{open}, "", "open", nil},
		{"open ignores password", []*models.Link{open}, "anything", "open", nil},
		{"expired", []*models.Link{expired}, "", "", ErrLinkNotFound},
		{"revoked", []*models.Link{revoked}, "", "", ErrLinkNotFound},
		{"not yet expired", []*models.Link{expired, timed}, "", "timed", nil},
		{"password missing", []*models.Link{locked}, "", "", ErrLinkPassword},
		{"password wrong", []*models.Link{locked}, "nope", "", ErrLinkPassword},
		{"password right", []*models.Link{locked}, "s3cret", locked.ID, nil},
		{"open beside locked", []*models.Link{locked, open}, "", "open", nil},
	}
	for _, tt := range tests {
		got, err := pickLink(tt.links, tt.password, now)
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.err)
			continue
		}
		if err == nil && got.ID != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got.ID, tt.want)
		}
	}
}

func TestNewLinkHashesPassword(t *testing.T) {
	now := time.Now()
	l, err := newLink("f", "u1", "pw", 24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if l.PasswordHash == "" || l.PasswordHash == "pw" {
		t.Errorf("PasswordHash = %q", l.PasswordHash)
	}
	if l.ExpiresAt == nil || !l.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Errorf("ExpiresAt = %v", l.ExpiresAt)
	}
	if l.ID == "" || !l.IsActive {
		t.Errorf("link = %+v", l)
	}
}

func TestMemoryLinkStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLinkStore()

	if _, err := s.ActiveLinkForNode(ctx, "f", ""); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("error = %v, want ErrLinkNotFound", err)
	}

	link, err := s.Create(ctx, "f", "u1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ActiveLinkForNode(ctx, "f", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != link.ID {
		t.Errorf("got link %s, want %s", got.ID, link.ID)
	}
	if _, err := s.ActiveLinkForNode(ctx, "other", ""); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("other node error = %v", err)
	}

	if err := s.Revoke(ctx, link.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveLinkForNode(ctx, "f", ""); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("revoked link error = %v", err)
	}
	revoked, err := s.Get(ctx, link.ID)
	if err != nil {
		t.Fatal(err)
	}
	if revoked.IsActive || revoked.NodeID != "f" {
		t.Errorf("revoked link = %+v", revoked)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("get missing error = %v", err)
	}
	if err := s.Revoke(ctx, "missing"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("revoke missing error = %v", err)
	}
}

func TestMemoryLinkStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLinkStore()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	if _, err := s.Create(ctx, "f", "u1", "", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveLinkForNode(ctx, "f", ""); err != nil {
		t.Fatalf("fresh link: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := s.ActiveLinkForNode(ctx, "f", ""); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("expired link error = %v", err)
	}
}
