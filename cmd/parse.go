package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexhaven/regtruth/internal/model"
	"github.com/lexhaven/regtruth/internal/parser"
	"github.com/lexhaven/regtruth/internal/storage"
)

func newParseCmd() *cobra.Command {
	var contentClass string
	cmd := &cobra.Command{
		Use:         "parse <file>",
		Short:       "Parse a document file and print its provision tree",
		Annotations: map[string]string{"standalone": "true"},
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParseCommand(cmd, args[0], contentClass)
		},
	}
	cmd.Flags().StringVar(&contentClass, "class", "", "content class (html, text, pdf); inferred from extension when empty")
	return cmd
}

func runParseCommand(cmd *cobra.Command, path, contentClass string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	class := model.ContentClass(contentClass)
	if class == "" {
		class = inferContentClass(path)
	}

	p := parser.New(parser.DefaultConfig())
	result := p.Parse(filepath.Base(path), class, model.ContentArtifact{
		EvidenceID:   filepath.Base(path),
		Content:      content,
		ContentHash:  storage.HashContent(content),
		ContentClass: class,
		FetchedAt:    time.Now().UTC(),
	})

	out := cmd.OutOrStdout()
	if result.Status != parser.StatusOK {
		fmt.Fprintf(out, "status: %s (%s)\n", result.Status, result.FailureReason)
		return nil
	}
	if violations := parser.Validate(result.CleanText, result.Nodes); len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(out, "violation: %s\n", v.Error())
		}
		return fmt.Errorf("%d structural violations", len(violations))
	}

	fmt.Fprintf(out, "status: %s\n", result.Status)
	fmt.Fprintf(out, "title: %s\n", result.DocMeta.Title)
	fmt.Fprintf(out, "nodes: %d (articles %d, paragraphs %d, points %d)\n",
		result.Stats.NodeCount, result.Stats.ArticleCount,
		result.Stats.ParagraphCount, result.Stats.PointCount)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, n := range result.Nodes {
		indent := strings.Repeat("  ", n.Depth)
		fmt.Fprintf(out, "%s%s [%d:%d)\n", indent, n.NodePath, n.StartOffset, n.EndOffset)
	}
	return nil
}

func inferContentClass(path string) model.ContentClass {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return model.ContentClassHTML
	case ".pdf":
		return model.ContentClassPDF
	default:
		return model.ContentClassText
	}
}
