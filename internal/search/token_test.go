package search

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func sampleQuery(t *testing.T) PageQuery {
	t.Helper()
	key := SortKey{DimUpdatedAt, Descending}
	editor := "u2"
	last := &models.Node{
		ID:           "n-42",
		Name:         "Quarterly Report",
		Category:     models.CategoryFile,
		UpdatedAt:    time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC),
		LastEditorID: &editor,
	}
	q := NewPageQuery(Filters{
		FolderID:    ptr("folder-1"),
		Cascade:     ptr(false),
		Flagged:     ptr(true),
		SharedByMe:  ptr(false),
		DirectShare: ptr(true),
		OwnerID:     ptr("u1"),
		NodeType:    ptr(models.NodeTypeText),
		Keywords:    []string{"Report", "  q1 "},
	}, &key, 25)
	keyset, err := BuildKeyset(q.Sequence, last)
	if err != nil {
		t.Fatal(err)
	}
	q.Keyset = keyset
	return q
}

func TestTokenRoundTripReproducesQuery(t *testing.T) {
	q := sampleQuery(t)
	token, err := EncodeToken(q)
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token %q is not raw URL base64", token)
	}

	got, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if got.Limit != q.Limit {
		t.Errorf("Limit = %d, want %d", got.Limit, q.Limit)
	}
	if *got.SortKey != *q.SortKey {
		t.Errorf("SortKey = %v, want %v", got.SortKey, q.SortKey)
	}
	if !reflect.DeepEqual(got.Sequence.Keys(), q.Sequence.Keys()) {
		t.Errorf("Sequence = %v, want %v", got.Sequence.Keys(), q.Sequence.Keys())
	}
	if !reflect.DeepEqual(got.Filters, q.Filters) {
		t.Errorf("Filters = %+v, want %+v", got.Filters, q.Filters)
	}
	gotText, gotArgs := got.Keyset.Render()
	wantText, wantArgs := q.Keyset.Render()
	if gotText != wantText {
		t.Errorf("keyset text = %q, want %q", gotText, wantText)
	}
	if !reflect.DeepEqual(gotArgs, wantArgs) {
		t.Errorf("keyset args = %#v, want %#v", gotArgs, wantArgs)
	}
}

func TestTokenDefaultSortRoundTrip(t *testing.T) {
	q := NewPageQuery(Filters{}, nil, 10)
	keyset, err := BuildKeyset(q.Sequence, &models.Node{ID: "x", Category: models.CategoryRoot})
	if err != nil {
		t.Fatal(err)
	}
	q.Keyset = keyset
	token, err := EncodeToken(q)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if got.SortKey != nil {
		t.Errorf("SortKey = %v, want nil", got.SortKey)
	}
	if !reflect.DeepEqual(got.Sequence.Keys(), ResolveSort(nil).Keys()) {
		t.Errorf("Sequence = %v", got.Sequence.Keys())
	}
}

func TestEncodeTokenRequiresKeyset(t *testing.T) {
	if _, err := EncodeToken(NewPageQuery(Filters{}, nil, 10)); err == nil {
		t.Error("expected error for a query without keyset")
	}
}

func encodeRaw(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	validKeyset := `{"field":"node_id","cmp":">","value":"a"}`
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"padded base64", base64.URLEncoding.EncodeToString([]byte(`{"limit":1}`))},
		{"not json", encodeRaw("hello")},
		{"json array", encodeRaw(`[1,2,3]`)},
		{"trailing data", encodeRaw(`{"limit":1,"sort":"","keyset":` + validKeyset + `,"filters":{}} {}`)},
		{"unknown field", encodeRaw(`{"limit":1,"sort":"","keyset":` + validKeyset + `,"filters":{},"admin":true}`)},
		{"unknown filter field", encodeRaw(`{"limit":1,"sort":"","keyset":` + validKeyset + `,"filters":{"everything":true}}`)},
		{"missing limit", encodeRaw(`{"sort":"","keyset":` + validKeyset + `,"filters":{}}`)},
		{"zero limit", encodeRaw(`{"limit":0,"sort":"","keyset":` + validKeyset + `,"filters":{}}`)},
		{"missing sort", encodeRaw(`{"limit":1,"keyset":` + validKeyset + `,"filters":{}}`)},
		{"missing keyset", encodeRaw(`{"limit":1,"sort":"","filters":{}}`)},
		{"missing filters", encodeRaw(`{"limit":1,"sort":"","keyset":` + validKeyset + `}`)},
		{"bad sort", encodeRaw(`{"limit":1,"sort":"PASSWORD_ASC","keyset":` + validKeyset + `,"filters":{}}`)},
		{"forbidden field", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"password","cmp":">","value":"a"},"filters":{}}`)},
		{"injected field", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"1=1 OR n.node_id","cmp":">","value":"a"},"filters":{}}`)},
		{"upper-case field", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"NODE_ID","cmp":">","value":"a"},"filters":{}}`)},
		{"bad comparator", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"node_id","cmp":"!=","value":"a"},"filters":{}}`)},
		{"wrong value type", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"size","cmp":">","value":"big"},"filters":{}}`)},
		{"fractional size", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"size","cmp":">","value":1.5},"filters":{}}`)},
		{"bad time", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"created_at","cmp":">","value":"yesterday"},"filters":{}}`)},
		{"missing value", encodeRaw(`{"limit":1,"sort":"","keyset":{"field":"node_id","cmp":">"},"filters":{}}`)},
		{"mixed node", encodeRaw(`{"limit":1,"sort":"","keyset":{"op":"AND","field":"node_id","cmp":">","value":"a"},"filters":{}}`)},
		{"bad operator", encodeRaw(`{"limit":1,"sort":"","keyset":{"op":"XOR","children":[` + validKeyset + `]},"filters":{}}`)},
		{"childless expression", encodeRaw(`{"limit":1,"sort":"","keyset":{"op":"OR"},"filters":{}}`)},
		{"empty predicate", encodeRaw(`{"limit":1,"sort":"","keyset":{},"filters":{}}`)},
		{"bad node type", encodeRaw(`{"limit":1,"sort":"","keyset":` + validKeyset + `,"filters":{"node_type":"EXECUTABLE"}}`)},
		{"too long", strings.Repeat("A", maxTokenLength+1)},
		{"too deep", encodeRaw(`{"limit":1,"sort":"","keyset":` + strings.Repeat(`{"op":"AND","children":[`, maxPredicateDepth) + validKeyset + strings.Repeat(`]}`, maxPredicateDepth) + `,"filters":{}}`)},
	}
	for _, tt := range tests {
		if _, err := DecodeToken(tt.token); !errors.Is(err, ErrInvalidPageToken) {
			t.Errorf("%s: error = %v, want ErrInvalidPageToken", tt.name, err)
		}
	}

	if _, err := DecodeToken(""); !errors.Is(err, ErrInvalidPageToken) {
		t.Errorf("empty token error = %v", err)
	}
}

func TestDecodeTokenAcceptsHandWrittenPayload(t *testing.T) {
	raw := `{"limit":3,"sort":"name_asc","keyset":{"op":"OR","children":[` +
		`{"field":"category","cmp":">","value":2},` +
		`{"op":"AND","children":[{"field":"category","cmp":"=","value":2},{"field":"NAME","cmp":">","value":"ABC"}]}` +
		`]},"filters":{"keywords":["  Foo "]}}`
	q, err := DecodeToken(encodeRaw(raw))
	if err != nil {
		t.Fatal(err)
	}
	text, args := q.Keyset.Render()
	if text != "(n.category > ? OR (n.category = ? AND LOWER(n.name) > ?))" {
		t.Errorf("text = %q", text)
	}
	if !reflect.DeepEqual(args, []any{int64(2), int64(2), "abc"}) {
		t.Errorf("args = %#v", args)
	}
	if !reflect.DeepEqual(q.Filters.Keywords, []string{"foo"}) {
		t.Errorf("keywords = %v", q.Filters.Keywords)
	}
}

func TestTokenPayloadIsJSON(t *testing.T) {
	token, err := EncodeToken(sampleQuery(t))
	if err != nil {
		t.Fatal(err)
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"limit", "sort", "keyset", "filters"} {
		if _, ok := m[key]; !ok {
			t.Errorf("payload missing %q: %s", key, data)
		}
	}
	if m["sort"] != "UPDATED_AT_DESC" {
		t.Errorf("sort = %v", m["sort"])
	}
}

func TestValidateFilters(t *testing.T) {
	if err := ValidateFilters(Filters{Keywords: []string{"a", "b"}}); err != nil {
		t.Errorf("valid filters: %v", err)
	}
	if err := ValidateFilters(Filters{FolderID: ptr("")}); err == nil {
		t.Error("empty folder id accepted")
	}
	if err := ValidateFilters(Filters{Keywords: []string{strings.Repeat("k", 257)}}); err == nil {
		t.Error("oversized keyword accepted")
	}
	if err := ValidateFilters(Filters{NodeType: ptr(models.NodeType("BINARY"))}); err == nil {
		t.Error("unknown node type accepted")
	}
}
