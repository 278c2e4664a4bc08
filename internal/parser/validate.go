package parser

import (
	"fmt"
	"sort"

	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/model"
)

// Invariant identifiers, stable across versions for triage and metrics.
const (
	InvariantUniquePaths       = "unique-node-paths"
	InvariantOffsetRoundTrip   = "offset-round-trip"
	InvariantParentContainment = "parent-containment"
	InvariantUniqueOrder       = "unique-sibling-order"
	InvariantSiblingOverlap    = "sibling-non-overlap"
)

// InvariantViolation is a structural defect in parser output. Violations must
// block persistence; they are surfaced for triage, never silently dropped.
type InvariantViolation struct {
	InvariantID string `json:"invariant_id"`
	Message     string `json:"message"`
	NodePath    string `json:"node_path,omitempty"`
	Details     string `json:"details,omitempty"`
}

// Error implements the error interface.
func (v InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated at %q: %s", v.InvariantID, v.NodePath, v.Message)
}

// Validate checks the five structural invariants of a parsed document. It is
// deliberately independent of the parse path: it re-derives everything from
// the clean text and node list alone, so it catches parser defects instead of
// inheriting them. Run in tests and as a pre-persistence gate.
func Validate(cleanText string, nodes []model.ProvisionNode) []InvariantViolation {
	var violations []InvariantViolation
	report := func(v InvariantViolation) {
		metrics.ObserveInvariantViolation(v.InvariantID)
		violations = append(violations, v)
	}

	byPath := make(map[string]model.ProvisionNode, len(nodes))
	for _, n := range nodes {
		if _, dup := byPath[n.NodePath]; dup {
			report(InvariantViolation{
				InvariantID: InvariantUniquePaths,
				Message:     "node path occurs more than once",
				NodePath:    n.NodePath,
			})
			continue
		}
		byPath[n.NodePath] = n
	}

	for _, n := range nodes {
		if n.RawText == nil {
			continue
		}
		got, ok := SliceUTF16(cleanText, n.StartOffset, n.EndOffset)
		if !ok {
			report(InvariantViolation{
				InvariantID: InvariantOffsetRoundTrip,
				Message:     "offset range does not address the clean text",
				NodePath:    n.NodePath,
				Details:     fmt.Sprintf("range [%d,%d)", n.StartOffset, n.EndOffset),
			})
			continue
		}
		if got != *n.RawText {
			report(InvariantViolation{
				InvariantID: InvariantOffsetRoundTrip,
				Message:     "stored raw text does not match the addressed slice",
				NodePath:    n.NodePath,
				Details:     fmt.Sprintf("range [%d,%d)", n.StartOffset, n.EndOffset),
			})
		}
	}

	for _, n := range nodes {
		parentPath := n.ParentPath()
		if parentPath == "" || n.IsContainer {
			continue
		}
		parent, ok := byPath[parentPath]
		if !ok {
			report(InvariantViolation{
				InvariantID: InvariantParentContainment,
				Message:     "parent node missing from document",
				NodePath:    n.NodePath,
				Details:     fmt.Sprintf("expected parent %q", parentPath),
			})
			continue
		}
		if n.StartOffset < parent.StartOffset || n.EndOffset > parent.EndOffset {
			report(InvariantViolation{
				InvariantID: InvariantParentContainment,
				Message:     "node range escapes its parent's range",
				NodePath:    n.NodePath,
				Details: fmt.Sprintf("node [%d,%d) vs parent [%d,%d)",
					n.StartOffset, n.EndOffset, parent.StartOffset, parent.EndOffset),
			})
		}
	}

	siblings := map[string][]model.ProvisionNode{}
	for _, n := range nodes {
		siblings[n.ParentPath()] = append(siblings[n.ParentPath()], n)
	}
	for parent, group := range siblings {
		seenOrder := map[int]string{}
		for _, n := range group {
			if prev, dup := seenOrder[n.OrderIndex]; dup {
				report(InvariantViolation{
					InvariantID: InvariantUniqueOrder,
					Message:     "sibling order index occurs more than once",
					NodePath:    n.NodePath,
					Details:     fmt.Sprintf("order %d also held by %q under %q", n.OrderIndex, prev, parent),
				})
			}
			seenOrder[n.OrderIndex] = n.NodePath
		}

		leaves := make([]model.ProvisionNode, 0, len(group))
		for _, n := range group {
			if !n.IsContainer {
				leaves = append(leaves, n)
			}
		}
		sort.Slice(leaves, func(i, j int) bool { return leaves[i].StartOffset < leaves[j].StartOffset })
		for i := 1; i < len(leaves); i++ {
			if leaves[i].StartOffset < leaves[i-1].EndOffset {
				report(InvariantViolation{
					InvariantID: InvariantSiblingOverlap,
					Message:     "sibling content nodes overlap",
					NodePath:    leaves[i].NodePath,
					Details: fmt.Sprintf("overlaps %q: [%d,%d) vs [%d,%d)",
						leaves[i-1].NodePath, leaves[i].StartOffset, leaves[i].EndOffset,
						leaves[i-1].StartOffset, leaves[i-1].EndOffset),
				})
			}
		}
	}

	return violations
}
