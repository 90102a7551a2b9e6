package postgres

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/search"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func TestRebind(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a = ?", "a = $1"},
		{"a = ? AND b = ?", "a = $1 AND b = $2"},
		{"a = '?' AND b = ?", "a = '?' AND b = $1"},
		{"COALESCE(n.editor_id, '') < ?", "COALESCE(n.editor_id, '') < $1"},
		{"no params", "no params"},
	}
	for _, tt := range tests {
		if got := rebind(tt.in); got != tt.want {
			t.Errorf("rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildFindQueryUserScope(t *testing.T) {
	q := search.Query{
		Scope:    search.UserScope("u1"),
		Sequence: search.ResolveSort(nil),
		Limit:    10,
	}
	sql, args := buildFindQuery(q)

	if !strings.Contains(sql, "(n.owner_id = $1 OR EXISTS (SELECT 1 FROM shares s WHERE s.node_id = n.node_id AND s.target_user_id = $2))") {
		t.Errorf("scope clause missing: %s", sql)
	}
	if !strings.HasSuffix(sql, "ORDER BY n.category ASC, n.node_id ASC LIMIT $3") {
		t.Errorf("order/limit: %s", sql)
	}
	if want := []any{"u1", "u1", 10}; !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestBuildFindQueryLinkScope(t *testing.T) {
	q := search.Compose(search.LinkScope("f1"), search.PageQuery{
		Sequence: search.ResolveSort(nil),
		Filters:  search.Filters{SharedWithMe: ptr(true), Keywords: []string{" Plan "}},
		Limit:    5,
	})
	sql, args := buildFindQuery(q)

	if strings.Contains(sql, "n.owner_id =") || strings.Contains(sql, "target_user_id") {
		t.Errorf("anonymous query references a user: %s", sql)
	}
	if !strings.Contains(sql, "$3 = ANY(n.ancestor_ids)") {
		t.Errorf("subtree clause missing: %s", sql)
	}
	if want := []any{"plan", "plan", "f1", 5}; !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestBuildFindQueryFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters search.Filters
		clause  string
		args    []any
	}{
		{"flagged", search.Filters{Flagged: ptr(true)},
			"EXISTS (SELECT 1 FROM node_flags fl WHERE fl.node_id = n.node_id AND fl.user_id = $3)", []any{"u"}},
		{"not flagged", search.Filters{Flagged: ptr(false)},
			"NOT EXISTS (SELECT 1 FROM node_flags", []any{"u"}},
		{"direct folder", search.Filters{FolderID: ptr("d"), Cascade: ptr(false)},
			"n.parent_id = $3", []any{"d"}},
		{"shared by me", search.Filters{SharedByMe: ptr(true)},
			"n.owner_id = $3 AND EXISTS (SELECT 1 FROM shares s WHERE s.node_id = n.node_id)", []any{"u"}},
		{"direct share", search.Filters{DirectShare: ptr(false)},
			"AND s.direct = $3)", []any{false}},
		{"node type", search.Filters{NodeType: ptr(models.NodeTypeImage)},
			"n.node_type = $3", []any{"IMAGE"}},
		{"owner", search.Filters{OwnerID: ptr("o")},
			"n.owner_id = $3", []any{"o"}},
	}
	for _, tt := range tests {
		sql, args := buildFindQuery(search.Query{
			Scope:    search.UserScope("u"),
			Filters:  tt.filters,
			Sequence: search.ResolveSort(nil),
		})
		if !strings.Contains(sql, tt.clause) {
			t.Errorf("%s: %q not in %s", tt.name, tt.clause, sql)
		}
		if got := args[2:]; !reflect.DeepEqual(got, tt.args) {
			t.Errorf("%s: args = %v, want %v", tt.name, got, tt.args)
		}
	}
}

func TestBuildFindQueryKeyset(t *testing.T) {
	key := search.SortKey{Dimension: search.DimSize, Direction: search.Descending}
	seq := search.ResolveSort(&key)
	last := &models.Node{ID: "n9", Category: models.CategoryFile, Name: "Zed", Size: 42,
		UpdatedAt: time.Unix(0, 0)}
	keyset, err := search.BuildKeyset(seq, last)
	if err != nil {
		t.Fatal(err)
	}

	sql, args := buildFindQuery(search.Query{
		Scope:    search.UserScope("u"),
		Keyset:   keyset,
		Sequence: seq,
		Limit:    3,
	})
	if !strings.Contains(sql, "(n.category < $3 OR (n.category = $4 AND n.size < $5)") {
		t.Errorf("keyset not rendered: %s", sql)
	}
	if !strings.Contains(sql, "ORDER BY n.category DESC, n.size DESC, LOWER(n.name) ASC, n.node_id ASC LIMIT $") {
		t.Errorf("order: %s", sql)
	}
	// scope(2) + keyset(1+2+3+4) + limit
	if len(args) != 2+10+1 {
		t.Errorf("len(args) = %d", len(args))
	}
	if args[len(args)-1] != 3 {
		t.Errorf("limit arg = %v", args[len(args)-1])
	}
	if strings.Count(sql, "$") != len(args) {
		t.Errorf("placeholders %d != args %d", strings.Count(sql, "$"), len(args))
	}
}
