package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lexhaven/regtruth/internal/model"
)

// Legal numbering recognized as structural headings. Paths are derived from
// these labels so the same logical provision parses to the same node path on
// every run.
var (
	reArticle   = regexp.MustCompile(`^(?:Article|Artikel|Art\.?|§)\s*(\d+[a-z]?)\b`)
	reParagraph = regexp.MustCompile(`^(?:\((\d+[a-z]?)\)|(\d+[a-z]?)\.)\s+\S`)
	rePoint     = regexp.MustCompile(`^([a-z])\)\s+\S`)
)

type segment struct {
	kind  model.NodeType
	label string
	start int
	end   int
}

func classifyLine(line string) (model.NodeType, string, bool) {
	if m := reArticle.FindStringSubmatch(line); m != nil {
		return model.NodeTypeArticle, m[1], true
	}
	if m := rePoint.FindStringSubmatch(line); m != nil {
		return model.NodeTypePoint, m[1], true
	}
	if m := reParagraph.FindStringSubmatch(line); m != nil {
		label := m[1]
		if label == "" {
			label = m[2]
		}
		return model.NodeTypeParagraph, label, true
	}
	return "", "", false
}

// segmentText classifies each line of the clean text and groups plain lines
// under the preceding heading. Offsets are UTF-16 code units into cleanText.
func segmentText(cleanText string) []segment {
	if cleanText == "" {
		return nil
	}
	var segs []segment
	offset := 0
	for _, line := range strings.Split(cleanText, "\n") {
		start := offset
		end := start + utf16Len(line)
		offset = end + 1 // "\n" separator is one UTF-16 code unit

		kind, label, ok := classifyLine(line)
		if !ok {
			// Plain content extends the current segment; preamble text
			// before the first heading is not addressable.
			if len(segs) > 0 {
				segs[len(segs)-1].end = end
			}
			continue
		}
		segs = append(segs, segment{kind: kind, label: label, start: start, end: end})
	}
	return segs
}

// buildNodes assembles segments into the provision tree. Node paths encode
// hierarchy and sibling order (art-12/par-3/pt-a); the parent of a node is
// derived from its path.
func buildNodes(cleanText string) ([]model.ProvisionNode, []string) {
	segs := segmentText(cleanText)
	if len(segs) == 0 {
		return nil, nil
	}

	var (
		nodes      []model.ProvisionNode
		warnings   []string
		pathSeen   = map[string]int{}
		orderNext  = map[string]int{}
		curArtIdx  = -1
		curParIdx  = -1
		indexByKey = map[string]int{}
	)

	uniquePath := func(parent, name string) string {
		path := name
		if parent != "" {
			path = parent + "/" + name
		}
		pathSeen[path]++
		if n := pathSeen[path]; n > 1 {
			warnings = append(warnings, fmt.Sprintf("duplicate label at %s, suffixed occurrence %d", path, n))
			path = fmt.Sprintf("%s-%d", path, n)
			pathSeen[path]++
		}
		return path
	}

	appendNode := func(kind model.NodeType, label, parent string, depth, start, end int) int {
		path := uniquePath(parent, pathName(kind, label))
		node := model.ProvisionNode{
			NodePath:    path,
			NodeType:    kind,
			Label:       label,
			OrderIndex:  orderNext[parent],
			Depth:       depth,
			StartOffset: start,
			EndOffset:   end,
		}
		orderNext[parent]++
		nodes = append(nodes, node)
		indexByKey[path] = len(nodes) - 1
		return len(nodes) - 1
	}

	for _, seg := range segs {
		switch seg.kind {
		case model.NodeTypeArticle:
			curArtIdx = appendNode(seg.kind, seg.label, "", 1, seg.start, seg.end)
			curParIdx = -1
		case model.NodeTypeParagraph:
			parent := ""
			depth := 1
			if curArtIdx >= 0 {
				parent = nodes[curArtIdx].NodePath
				depth = nodes[curArtIdx].Depth + 1
			}
			curParIdx = appendNode(seg.kind, seg.label, parent, depth, seg.start, seg.end)
		case model.NodeTypePoint:
			parent := ""
			depth := 1
			switch {
			case curParIdx >= 0:
				parent = nodes[curParIdx].NodePath
				depth = nodes[curParIdx].Depth + 1
			case curArtIdx >= 0:
				parent = nodes[curArtIdx].NodePath
				depth = nodes[curArtIdx].Depth + 1
			}
			appendNode(seg.kind, seg.label, parent, depth, seg.start, seg.end)
		}
	}

	// Containers span their descendants: extend each ancestor's range to
	// cover its children and mark it a container.
	for i := range nodes {
		parent := nodes[i].ParentPath()
		for parent != "" {
			pi, ok := indexByKey[parent]
			if !ok {
				break
			}
			nodes[pi].IsContainer = true
			if nodes[i].EndOffset > nodes[pi].EndOffset {
				nodes[pi].EndOffset = nodes[i].EndOffset
			}
			parent = nodes[pi].ParentPath()
		}
	}

	// Leaves carry their verbatim text slice; containers do not.
	for i := range nodes {
		if nodes[i].IsContainer {
			continue
		}
		raw, ok := SliceUTF16(cleanText, nodes[i].StartOffset, nodes[i].EndOffset)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unsliceable range for %s", nodes[i].NodePath))
			continue
		}
		nodes[i].RawText = &raw
	}

	return nodes, warnings
}

func pathName(kind model.NodeType, label string) string {
	label = strings.ToLower(label)
	switch kind {
	case model.NodeTypeArticle:
		return "art-" + label
	case model.NodeTypeParagraph:
		return "par-" + label
	case model.NodeTypePoint:
		return "pt-" + label
	default:
		return string(kind) + "-" + label
	}
}
