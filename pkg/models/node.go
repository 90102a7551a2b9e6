// Package models contains the data types shared by the server, the stores and the CLI.
package models

import (
	"slices"
	"time"
)

// Category bands nodes in every listing. The numeric order is significant:
// roots sort before folders, folders before files.
type Category int

const (
	CategoryRoot   Category = 0
	CategoryFolder Category = 1
	CategoryFile   Category = 2
)

func (c Category) String() string {
	switch c {
	case CategoryRoot:
		return "root"
	case CategoryFolder:
		return "folder"
	case CategoryFile:
		return "file"
	}
	return "unknown"
}

// NodeType is the finer-grained kind of a node, derived from its mime type for files.
type NodeType string

const (
	NodeTypeRoot         NodeType = "ROOT"
	NodeTypeFolder       NodeType = "FOLDER"
	NodeTypeText         NodeType = "TEXT"
	NodeTypeImage        NodeType = "IMAGE"
	NodeTypeVideo        NodeType = "VIDEO"
	NodeTypeAudio        NodeType = "AUDIO"
	NodeTypeApplication  NodeType = "APPLICATION"
	NodeTypeMessage      NodeType = "MESSAGE"
	NodeTypePresentation NodeType = "PRESENTATION"
	NodeTypeSpreadsheet  NodeType = "SPREADSHEET"
	NodeTypeOther        NodeType = "OTHER"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeRoot, NodeTypeFolder, NodeTypeText, NodeTypeImage, NodeTypeVideo,
		NodeTypeAudio, NodeTypeApplication, NodeTypeMessage, NodeTypePresentation,
		NodeTypeSpreadsheet, NodeTypeOther:
		return true
	}
	return false
}

// Node is a root, folder or file in the hierarchy.
//
// AncestorIDs is the materialized path: ids from the storage root down to the
// parent. It is empty only for roots.
type Node struct {
	ID             string    `json:"id"`
	ParentID       *string   `json:"parent_id,omitempty"`
	AncestorIDs    []string  `json:"ancestor_ids"`
	Category       Category  `json:"category"`
	Type           NodeType  `json:"type"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Size           int64     `json:"size"`
	OwnerID        string    `json:"owner_id"`
	CreatorID      string    `json:"creator_id"`
	LastEditorID   *string   `json:"last_editor_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CurrentVersion int       `json:"current_version"`
}

// HasAncestor reports whether id appears in the node's ancestor path.
func (n *Node) HasAncestor(id string) bool {
	return slices.Contains(n.AncestorIDs, id)
}

// ChildAncestors returns the ancestor path a direct child of n would carry.
func (n *Node) ChildAncestors() []string {
	path := make([]string, 0, len(n.AncestorIDs)+1)
	path = append(path, n.AncestorIDs...)
	return append(path, n.ID)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.AncestorIDs = slices.Clone(n.AncestorIDs)
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.LastEditorID != nil {
		e := *n.LastEditorID
		c.LastEditorID = &e
	}
	return &c
}

// Share grants a user access to a node.
type Share struct {
	NodeID       string    `json:"node_id"`
	TargetUserID string    `json:"target_user_id"`
	Permissions  string    `json:"permissions"` // "read" or "write"
	Direct       bool      `json:"direct"`
	CreatedAt    time.Time `json:"created_at"`
}

// Link is a public link that exposes a folder to anonymous callers.
type Link struct {
	ID        string     `json:"id"`
	NodeID    string     `json:"node_id"`
	CreatedBy string     `json:"created_by"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`

	// PasswordHash is a bcrypt hash; empty means the link is open.
	PasswordHash string `json:"-"`
}

// Usable reports whether the link is active and not expired at now.
func (l *Link) Usable(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}
