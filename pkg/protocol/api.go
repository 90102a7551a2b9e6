// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// Filters narrows a search. Omitted fields do not filter.
type Filters struct {
	FolderID     *string          `json:"folder_id,omitempty"`
	Cascade      *bool            `json:"cascade,omitempty"`
	Flagged      *bool            `json:"flagged,omitempty"`
	SharedWithMe *bool            `json:"shared_with_me,omitempty"`
	SharedByMe   *bool            `json:"shared_by_me,omitempty"`
	DirectShare  *bool            `json:"direct_share,omitempty"`
	OwnerID      *string          `json:"owner_id,omitempty"`
	NodeType     *models.NodeType `json:"node_type,omitempty"`
	Keywords     []string         `json:"keywords,omitempty"`
}

// FindRequest is the body for POST /api/v1/nodes/find.
// When PageToken is set it wins over Filters, Sort and Limit.
type FindRequest struct {
	Filters   Filters `json:"filters"`
	Sort      string  `json:"sort,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	PageToken string  `json:"page_token,omitempty" validate:"max=8192"`
}

// FindResponse is one page of search results. PageToken is empty on the
// last page.
type FindResponse struct {
	Nodes     []*models.Node `json:"nodes"`
	PageToken string         `json:"page_token,omitempty"`
}

// MoveRequest is the body for POST /api/v1/nodes/move.
type MoveRequest struct {
	NodeIDs       []string `json:"node_ids" validate:"required,min=1,max=1000,dive,required,max=64"`
	DestinationID string   `json:"destination_id" validate:"required,max=64"`
}

// MoveResponse lists the moved nodes with their new paths.
type MoveResponse struct {
	Nodes []*models.Node `json:"nodes"`
}

// CreateLinkRequest is the body for POST /api/v1/links.
type CreateLinkRequest struct {
	NodeID       string `json:"node_id" validate:"required,max=64"`
	Password     string `json:"password,omitempty" validate:"max=72"`
	ExpiresInSec int64  `json:"expires_in_sec,omitempty" validate:"gte=0"`
}

// LinkResponse describes a created public link.
type LinkResponse struct {
	ID        string     `json:"id"`
	NodeID    string     `json:"node_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Protected bool       `json:"protected"`
	CreatedAt time.Time  `json:"created_at"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}
