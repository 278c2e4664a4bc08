// Package model defines core types shared across the extraction pipeline.
package model

import (
	"time"
)

// DiscoveryCheckpoint is a durable progress marker for a sitemap scan. It is
// persisted by the caller only after a child sitemap has been fully processed,
// so a resumed run re-reads at most one partially processed child.
type DiscoveryCheckpoint struct {
	LastCompletedChildIndex int    `json:"last_completed_child_index"`
	LastCompletedChildURL   string `json:"last_completed_child_url,omitempty"`
	URLsEmittedSoFar        int    `json:"urls_emitted_so_far"`
}

// ContentClass identifies the format of a fetched artifact.
type ContentClass string

// Content classes accepted by the parser.
const (
	ContentClassHTML ContentClass = "html"
	ContentClassText ContentClass = "text"
	ContentClassPDF  ContentClass = "pdf"
)

// ContentArtifact is the immutable raw form of a fetched document.
type ContentArtifact struct {
	EvidenceID   string       `json:"evidence_id"`
	Content      []byte       `json:"-"`
	ContentHash  string       `json:"content_hash"`
	ContentClass ContentClass `json:"content_class"`
	FetchedAt    time.Time    `json:"fetched_at"`
	SourceURL    string       `json:"source_url"`
}

// NodeType classifies a provision node within a document's structural tree.
type NodeType string

// Node types produced by the parser.
const (
	NodeTypeDocument  NodeType = "document"
	NodeTypeArticle   NodeType = "article"
	NodeTypeParagraph NodeType = "paragraph"
	NodeTypePoint     NodeType = "point"
)

// ProvisionNode is an addressable node (article, paragraph, point) in a parsed
// document. Offsets are relative to the document's canonical clean text and are
// expressed in UTF-16 code units so re-slicing is unambiguous across systems.
// The parent node is derived from the path hierarchy.
type ProvisionNode struct {
	NodePath    string   `json:"node_path"`
	NodeType    NodeType `json:"node_type"`
	Label       string   `json:"label"`
	OrderIndex  int      `json:"order_index"`
	Depth       int      `json:"depth"`
	StartOffset int      `json:"start_offset"`
	EndOffset   int      `json:"end_offset"`
	RawText     *string  `json:"raw_text,omitempty"`
	IsContainer bool     `json:"is_container"`
}

// ParentPath returns the node path of this node's parent, or "" for a root node.
func (n ProvisionNode) ParentPath() string {
	for i := len(n.NodePath) - 1; i >= 0; i-- {
		if n.NodePath[i] == '/' {
			return n.NodePath[:i]
		}
	}
	return ""
}

// SourcePointer is a quote-anchored fact extracted from evidence. Pointers are
// never mutated in place; re-extraction supersedes with new rows.
type SourcePointer struct {
	ID         string    `json:"id"`
	EvidenceID string    `json:"evidence_id"`
	NodePath   string    `json:"node_path,omitempty"`
	Quote      string    `json:"quote"`
	Context    string    `json:"context"`
	Domain     string    `json:"domain"`
	ValueType  string    `json:"value_type"`
	Confidence float64   `json:"confidence"`
	LawRef     string    `json:"law_ref,omitempty"`
	ArticleRef string    `json:"article_ref,omitempty"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// RuleStatus is the lifecycle state of a regulatory rule.
type RuleStatus string

// Rule lifecycle states.
const (
	RuleStatusDraft         RuleStatus = "DRAFT"
	RuleStatusPendingReview RuleStatus = "PENDING_REVIEW"
	RuleStatusApproved      RuleStatus = "APPROVED"
	RuleStatusPublished     RuleStatus = "PUBLISHED"
	RuleStatusDeprecated    RuleStatus = "DEPRECATED"
	RuleStatusRejected      RuleStatus = "REJECTED"
)

var ruleTransitions = map[RuleStatus][]RuleStatus{
	RuleStatusDraft:         {RuleStatusPendingReview, RuleStatusRejected},
	RuleStatusPendingReview: {RuleStatusApproved, RuleStatusRejected, RuleStatusDraft},
	RuleStatusApproved:      {RuleStatusPublished, RuleStatusRejected},
	RuleStatusPublished:     {RuleStatusDeprecated},
	RuleStatusDeprecated:    nil,
	RuleStatusRejected:      nil,
}

// CanTransition reports whether a rule may move from its current status to next.
func (s RuleStatus) CanTransition(next RuleStatus) bool {
	for _, allowed := range ruleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RegulatoryRule is a versioned, lifecycle-managed legal interpretation built
// from one or more source pointers. Rules are never hard-deleted, only
// superseded or deprecated.
type RegulatoryRule struct {
	ID             string     `json:"id"`
	ConceptSlug    string     `json:"concept_slug"`
	Status         RuleStatus `json:"status"`
	Version        int        `json:"version"`
	RuleText       string     `json:"rule_text"`
	InputsHash     string     `json:"inputs_hash"`
	EvidenceHash   string     `json:"evidence_hash"`
	HashAlgo       string     `json:"hash_algo"`
	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// EffectiveAt reports whether the rule is in force at the given date.
func (r RegulatoryRule) EffectiveAt(asOf time.Time) bool {
	if asOf.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveUntil != nil && asOf.After(*r.EffectiveUntil) {
		return false
	}
	return true
}

// EndpointHealth is the persisted scrape metadata for one discovery source,
// consumed by the watchdog.
type EndpointHealth struct {
	Source            string     `json:"source"`
	LastScrapedAt     *time.Time `json:"last_scraped_at,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastError         string     `json:"last_error,omitempty"`
}

// DomainRateLimitState is a point-in-time snapshot of one domain's limiter
// state. It is ephemeral and process-local, never persisted.
type DomainRateLimitState struct {
	Domain            string    `json:"domain"`
	LastRequestAt     time.Time `json:"last_request_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CircuitOpen       bool      `json:"circuit_open"`
	OpenedAt          time.Time `json:"opened_at,omitzero"`
}
