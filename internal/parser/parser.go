// Package parser converts raw fetched documents into a canonical clean-text
// buffer plus a tree of addressable provision nodes. Parsing is a pure,
// synchronous transform with no side effects, safe under arbitrary
// concurrency across documents.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/model"
)

// Parser identity. ParserVersion is bumped on any behavior change so stored
// rows from older versions are distinguishable and re-parses are safe.
const (
	ParserID      = "provision-parser"
	ParserVersion = "1.2.0"
)

// Status is the outcome of a parse attempt.
type Status string

// Parse outcomes. An unsupported content class is a structured failure the
// caller can reroute on, never an error.
const (
	StatusOK     Status = "OK"
	StatusFailed Status = "FAILED"
)

// Config controls text extraction. Its hash is recorded on every result so
// stale rows can be identified after a configuration change.
type Config struct {
	// StripSelectors are removed from HTML documents before extraction.
	StripSelectors []string
}

// DefaultConfig returns the production extraction configuration.
func DefaultConfig() Config {
	return Config{
		StripSelectors: []string{
			"script", "style", "noscript", "iframe", "svg",
			"nav", "header", "footer", "form", "aside",
		},
	}
}

// Stats summarizes a parse result.
type Stats struct {
	NodeCount      int `json:"node_count"`
	ArticleCount   int `json:"article_count"`
	ParagraphCount int `json:"paragraph_count"`
	PointCount     int `json:"point_count"`
	CleanTextUnits int `json:"clean_text_units"`
}

// DocMeta carries document-level metadata recovered during parsing.
type DocMeta struct {
	Title     string `json:"title,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// Result is the complete outcome of one parse attempt.
type Result struct {
	EvidenceID      string                `json:"evidence_id"`
	Status          Status                `json:"status"`
	FailureReason   string                `json:"failure_reason,omitempty"`
	CleanText       string                `json:"clean_text,omitempty"`
	CleanTextHash   string                `json:"clean_text_hash,omitempty"`
	Nodes           []model.ProvisionNode `json:"nodes,omitempty"`
	Stats           Stats                 `json:"stats"`
	Warnings        []string              `json:"warnings,omitempty"`
	DocMeta         DocMeta               `json:"doc_meta"`
	ParserID        string                `json:"parser_id"`
	ParserVersion   string                `json:"parser_version"`
	ParseConfigHash string                `json:"parse_config_hash"`
}

// Parser performs structural parsing of content artifacts.
type Parser struct {
	cfg        Config
	configHash string
}

// New builds a Parser with the given configuration.
func New(cfg Config) *Parser {
	return &Parser{cfg: cfg, configHash: configHash(cfg)}
}

// configHash canonicalizes the configuration (sorted selectors) before
// hashing, so hash equality is independent of declaration order.
func configHash(cfg Config) string {
	selectors := append([]string(nil), cfg.StripSelectors...)
	sort.Strings(selectors)
	sum := sha256.Sum256([]byte(strings.Join(selectors, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Parse converts an artifact into clean text and provision nodes. Unsupported
// content classes produce a FAILED result so the caller can reroute (for
// example to OCR) without exception-style branching.
func (p *Parser) Parse(evidenceID string, class model.ContentClass, artifact model.ContentArtifact) Result {
	res := Result{
		EvidenceID:      evidenceID,
		ParserID:        ParserID,
		ParserVersion:   ParserVersion,
		ParseConfigHash: p.configHash,
		DocMeta:         DocMeta{SourceURL: artifact.SourceURL},
	}

	var cleanText string
	switch class {
	case model.ContentClassHTML:
		text, title, err := extractHTML(artifact.Content, p.cfg.StripSelectors)
		if err != nil {
			res.Status = StatusFailed
			res.FailureReason = fmt.Sprintf("html extraction: %v", err)
			metrics.ObserveParseResult(string(class), string(StatusFailed))
			return res
		}
		cleanText = text
		res.DocMeta.Title = title
	case model.ContentClassText:
		cleanText = normalizeText(string(artifact.Content))
	default:
		res.Status = StatusFailed
		res.FailureReason = fmt.Sprintf("unsupported content class %q", class)
		metrics.ObserveParseResult(string(class), string(StatusFailed))
		return res
	}

	nodes, warnings := buildNodes(cleanText)
	sum := sha256.Sum256([]byte(cleanText))

	res.Status = StatusOK
	res.CleanText = cleanText
	res.CleanTextHash = hex.EncodeToString(sum[:])
	res.Nodes = nodes
	res.Warnings = warnings
	res.Stats = statsFor(cleanText, nodes)
	metrics.ObserveParseResult(string(class), string(StatusOK))
	return res
}

func statsFor(cleanText string, nodes []model.ProvisionNode) Stats {
	st := Stats{
		NodeCount:      len(nodes),
		CleanTextUnits: utf16Len(cleanText),
	}
	for _, n := range nodes {
		switch n.NodeType {
		case model.NodeTypeArticle:
			st.ArticleCount++
		case model.NodeTypeParagraph:
			st.ParagraphCount++
		case model.NodeTypePoint:
			st.PointCount++
		}
	}
	return st
}
