// Package hashing provides the deterministic idempotency hashes that make
// pipeline retries safe. All functions are pure and canonicalize their input
// (sorted IDs, sorted keys) before hashing, so hash equality is independent
// of iteration order.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Algo identifies the hash algorithm. It is recorded alongside every stored
// hash so the algorithm can change without invalidating history.
const Algo = "sha256"

// Inputs captures everything that feeds one rule composition attempt.
type Inputs struct {
	CandidateFactIDs []string
	EvidenceIDs      []string
	AgentRunIDs      []string
	Config           map[string]any
}

// EvidenceRecord is the hashed view of one evidence row.
type EvidenceRecord struct {
	ID         string
	RawContent string
}

// Attempt pairs the two hashes recorded for a composition attempt.
type Attempt struct {
	InputsHash   string
	EvidenceHash string
}

// ComputeInputsHash hashes the identity of a composition attempt's inputs.
// Permuting any ID list or the config map yields the same hash.
func ComputeInputsHash(in Inputs) (string, error) {
	h := sha256.New()
	writeSortedList(h, "facts", in.CandidateFactIDs)
	writeSortedList(h, "evidence", in.EvidenceIDs)
	writeSortedList(h, "runs", in.AgentRunIDs)

	canonical, err := canonicalizeValue(in.Config)
	if err != nil {
		return "", fmt.Errorf("canonicalize config: %w", err)
	}
	fmt.Fprintf(h, "config\x00%s\x00", canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeEvidenceHash hashes the content of the evidence backing an attempt.
// Changing any single record's content changes the hash; permuting the
// records does not.
func ComputeEvidenceHash(records []EvidenceRecord) (string, error) {
	sorted := make([]EvidenceRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, rec := range sorted {
		if rec.ID == "" {
			return "", fmt.Errorf("evidence record with empty id")
		}
		fmt.Fprintf(h, "%s\x00%s\x00", rec.ID, rec.RawContent)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ShortCircuit reports whether a retry with the given hashes is a no-op
// against the previous attempt. Identical hashes mean the evidence has not
// moved and the retry can return without recomposing; this is an explicit
// "no work needed" outcome, not an error.
func ShortCircuit(prev, next Attempt) bool {
	if prev.InputsHash == "" || prev.EvidenceHash == "" {
		return false
	}
	return prev.InputsHash == next.InputsHash && prev.EvidenceHash == next.EvidenceHash
}

func writeSortedList(h io.Writer, tag string, ids []string) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	fmt.Fprintf(h, "%s\x00%s\x00", tag, strings.Join(sorted, "\x1f"))
}

// canonicalizeValue renders a config value into a stable textual form with
// map keys emitted in sorted order at every nesting level.
func canonicalizeValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return fmt.Sprintf("%q", val), nil
	case bool:
		return fmt.Sprintf("%t", val), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val), nil
	case float32:
		return canonicalizeValue(float64(val))
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val)), nil
		}
		return fmt.Sprintf("%g", val), nil
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			s, err := canonicalizeValue(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []string:
		parts := make([]any, len(val))
		for i, item := range val {
			parts[i] = item
		}
		return canonicalizeValue(parts)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			s, err := canonicalizeValue(val[k])
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("%q:%s", k, s)
		}
		return "{" + strings.Join(parts, ",") + "}", nil
	default:
		return "", fmt.Errorf("unsupported config value type %T", v)
	}
}
