package hashing

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestComputeInputsHashOrderInvariant(t *testing.T) {
	t.Parallel()

	a, err := ComputeInputsHash(Inputs{
		CandidateFactIDs: []string{"f1", "f2", "f3"},
		EvidenceIDs:      []string{"e1", "e2"},
		AgentRunIDs:      []string{"r1"},
		Config:           map[string]any{"model": "extractor-v2", "threshold": 0.8},
	})
	require.NoError(t, err)
	require.Regexp(t, hexPattern, a, "output is lowercase hex sha-256")

	b, err := ComputeInputsHash(Inputs{
		CandidateFactIDs: []string{"f3", "f1", "f2"},
		EvidenceIDs:      []string{"e2", "e1"},
		AgentRunIDs:      []string{"r1"},
		Config:           map[string]any{"threshold": 0.8, "model": "extractor-v2"},
	})
	require.NoError(t, err)
	require.Equal(t, a, b, "permuting id lists and config keys must not change the hash")
}

func TestComputeInputsHashSensitivity(t *testing.T) {
	t.Parallel()

	base := Inputs{
		CandidateFactIDs: []string{"f1"},
		EvidenceIDs:      []string{"e1"},
		Config:           map[string]any{"threshold": 0.8},
	}
	a, err := ComputeInputsHash(base)
	require.NoError(t, err)

	changedFacts := base
	changedFacts.CandidateFactIDs = []string{"f2"}
	b, err := ComputeInputsHash(changedFacts)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	changedConfig := base
	changedConfig.Config = map[string]any{"threshold": 0.9}
	c, err := ComputeInputsHash(changedConfig)
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	// Lists are hashed per field: moving an id between fields changes the hash.
	moved := Inputs{
		CandidateFactIDs: nil,
		EvidenceIDs:      []string{"e1", "f1"},
		Config:           map[string]any{"threshold": 0.8},
	}
	d, err := ComputeInputsHash(moved)
	require.NoError(t, err)
	require.NotEqual(t, a, d)
}

func TestComputeInputsHashNestedConfig(t *testing.T) {
	t.Parallel()

	a, err := ComputeInputsHash(Inputs{Config: map[string]any{
		"outer": map[string]any{"x": 1, "y": []string{"p", "q"}},
	}})
	require.NoError(t, err)

	b, err := ComputeInputsHash(Inputs{Config: map[string]any{
		"outer": map[string]any{"y": []string{"p", "q"}, "x": 1},
	}})
	require.NoError(t, err)
	require.Equal(t, a, b, "nested map keys are canonicalized too")

	_, err = ComputeInputsHash(Inputs{Config: map[string]any{"bad": make(chan int)}})
	require.Error(t, err, "unhashable config values are rejected, not skipped")
}

func TestComputeEvidenceHashOrderInvariant(t *testing.T) {
	t.Parallel()

	a, err := ComputeEvidenceHash([]EvidenceRecord{
		{ID: "b", RawContent: "y"},
		{ID: "a", RawContent: "x"},
	})
	require.NoError(t, err)

	b, err := ComputeEvidenceHash([]EvidenceRecord{
		{ID: "a", RawContent: "x"},
		{ID: "b", RawContent: "y"},
	})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Regexp(t, hexPattern, a)
}

func TestComputeEvidenceHashContentSensitivity(t *testing.T) {
	t.Parallel()

	a, err := ComputeEvidenceHash([]EvidenceRecord{
		{ID: "a", RawContent: "x"},
		{ID: "b", RawContent: "y"},
	})
	require.NoError(t, err)

	b, err := ComputeEvidenceHash([]EvidenceRecord{
		{ID: "a", RawContent: "x"},
		{ID: "b", RawContent: "y-amended"},
	})
	require.NoError(t, err)
	require.NotEqual(t, a, b, "changing one record's content must change the hash")

	_, err = ComputeEvidenceHash([]EvidenceRecord{{ID: "", RawContent: "x"}})
	require.Error(t, err)
}

func TestShortCircuit(t *testing.T) {
	t.Parallel()

	prev := Attempt{InputsHash: "aaa", EvidenceHash: "bbb"}
	require.True(t, ShortCircuit(prev, Attempt{InputsHash: "aaa", EvidenceHash: "bbb"}))
	require.False(t, ShortCircuit(prev, Attempt{InputsHash: "aaa", EvidenceHash: "ccc"}),
		"evidence moved underneath the retry, recomposition is required")
	require.False(t, ShortCircuit(Attempt{}, Attempt{InputsHash: "aaa", EvidenceHash: "bbb"}),
		"a first attempt never short-circuits")
}
