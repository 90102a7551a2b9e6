package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/retry"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/protocol"
)

func init() {
	logging.InitNop()
}

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL:   ts.URL,
		AuthToken: "tok",
		Retry: retry.Policy{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestFindAllFollowsTokens(t *testing.T) {
	var requests []protocol.FindRequest
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "no auth", Code: 401})
			return
		}
		var req protocol.FindRequest
		json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)

		switch req.PageToken {
		case "":
			writeJSON(w, http.StatusOK, protocol.FindResponse{Nodes: []*models.Node{{ID: "a"}, {ID: "b"}}, PageToken: "t1"})
		case "t1":
			writeJSON(w, http.StatusOK, protocol.FindResponse{Nodes: []*models.Node{{ID: "c"}}})
		}
	}))
	defer ts.Close()

	var got []string
	err := c.FindAll(context.Background(), protocol.FindRequest{Sort: "NAME_ASC", Limit: 2}, func(p *protocol.FindResponse) error {
		for _, n := range p.Nodes {
			got = append(got, n.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2] != "c" {
		t.Errorf("got %v", got)
	}
	if len(requests) != 2 || requests[0].Sort != "NAME_ASC" || requests[1].Sort != "" {
		t.Errorf("requests = %+v", requests)
	}
}

func TestClientErrors(t *testing.T) {
	var calls atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/api/v1/nodes/find":
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid page token", Code: 400})
		default:
			writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: "boom", Code: 500})
		}
	}))
	defer ts.Close()

	_, err := c.Find(context.Background(), protocol.FindRequest{PageToken: "junk"})
	if StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx retried: %d calls", calls.Load())
	}

	calls.Store(0)
	_, err = c.Move(context.Background(), protocol.MoveRequest{NodeIDs: []string{"a"}, DestinationID: "b"})
	if StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("5xx attempts = %d, want 3", calls.Load())
	}
}

func TestFindPublic(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/public/folders/f1/nodes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("page_token") != "abc" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Link-Password") != "pw" {
			t.Errorf("password header = %q", r.Header.Get("X-Link-Password"))
		}
		writeJSON(w, http.StatusOK, protocol.FindResponse{Nodes: []*models.Node{{ID: "x"}}})
	}))
	defer ts.Close()

	page, err := c.FindPublic(context.Background(), "f1", "pw", 5, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Nodes) != 1 || page.PageToken != "" {
		t.Errorf("page = %+v", page)
	}
}

func TestRevokeLink(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/links/l1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	if err := c.RevokeLink(context.Background(), "l1"); err != nil {
		t.Fatal(err)
	}
}
