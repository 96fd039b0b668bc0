package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownParser emits one unit per heading-delimited section using the
// goldmark AST. Documents without headings yield no units, which routes
// them to the windowed fallback.
type markdownParser struct{}

func (p *markdownParser) Parse(content string) ([]Unit, error) {
	source := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	lineIndex := buildLineIndex(source)
	totalLines := strings.Count(content, "\n") + 1

	type headingMark struct {
		name string
		line int
	}
	var headings []headingMark

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		if heading.Lines().Len() == 0 {
			continue
		}
		seg := heading.Lines().At(0)
		headings = append(headings, headingMark{
			name: headingText(heading, source),
			line: lineIndex.lineOf(seg.Start),
		})
	}

	if len(headings) == 0 {
		return nil, nil
	}

	var units []Unit
	// Preamble before the first heading belongs to an unnamed section.
	if headings[0].line > 1 {
		units = append(units, Unit{
			Type:      "section",
			StartLine: 1,
			EndLine:   headings[0].line - 1,
		})
	}
	for i, h := range headings {
		end := totalLines
		if i+1 < len(headings) {
			end = headings[i+1].line - 1
		}
		units = append(units, Unit{
			Name:      h.name,
			Type:      "section",
			StartLine: h.line,
			EndLine:   end,
		})
	}
	return units, nil
}

func headingText(heading *ast.Heading, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(heading, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
		case *ast.String:
			sb.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex struct {
	starts []int
}

func buildLineIndex(source []byte) *lineIndex {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{starts: starts}
}

func (l *lineIndex) lineOf(offset int) int {
	lo, hi := 0, len(l.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if l.starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}
