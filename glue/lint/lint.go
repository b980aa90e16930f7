// Package lint parses generated glue with tree-sitter's C++ grammar and
// reports syntax errors before the source is handed to the compiler.
package lint

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"

	"github.com/wippyai/vlsim/errors"
)

// DefaultMacros are annotation macros the grammar cannot see through.
var DefaultMacros = []string{"VL_MT_UNSAFE", "VL_MT_SAFE", "VLSIM_TLS"}

// Issue is one syntax problem found in the source.
type Issue struct {
	Line   int
	Column int
	Kind   string // "error" or "missing"
	Text   string
}

func (i Issue) String() string {
	return fmt.Sprintf("%d:%d: %s %q", i.Line, i.Column, i.Kind, i.Text)
}

// Checker holds a parser configured for C++.
type Checker struct {
	parser *sitter.Parser
	macros []string
}

// New creates a Checker. macros are blanked out of non-preprocessor lines
// before parsing; nil selects DefaultMacros.
func New(macros []string) *Checker {
	if macros == nil {
		macros = DefaultMacros
	}
	parser := sitter.NewParser()
	parser.SetLanguage(cpp.GetLanguage())
	return &Checker{parser: parser, macros: macros}
}

// Issues parses src and returns every error or missing node.
func (c *Checker) Issues(ctx context.Context, src []byte) ([]Issue, error) {
	clean := c.blank(src)
	tree, err := c.parser.ParseCtx(ctx, nil, clean)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseGenerate, errors.KindInvalidData, err, "parse glue")
	}
	defer tree.Close()

	var issues []Issue
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.IsError() || n.IsMissing() {
			kind := "error"
			if n.IsMissing() {
				kind = "missing"
			}
			pt := n.StartPoint()
			text := n.Content(clean)
			if len(text) > 40 {
				text = text[:40]
			}
			issues = append(issues, Issue{
				Line:   int(pt.Row) + 1,
				Column: int(pt.Column) + 1,
				Kind:   kind,
				Text:   text,
			})
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	return issues, nil
}

// Check returns a KindInvalidData error listing every issue in src.
func (c *Checker) Check(ctx context.Context, src []byte) error {
	issues, err := c.Issues(ctx, src)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return nil
	}
	lines := make([]string, len(issues))
	for i, is := range issues {
		lines[i] = is.String()
	}
	return errors.New(errors.PhaseGenerate, errors.KindInvalidData).
		Value(issues).
		Detail("glue has %d syntax issue(s): %s", len(issues), strings.Join(lines, "; ")).
		Build()
}

// Check parses src with a fresh Checker.
func Check(ctx context.Context, src []byte) error {
	return New(nil).Check(ctx, src)
}

// blank replaces macro names with spaces outside preprocessor lines,
// keeping byte offsets stable so reported positions match src.
func (c *Checker) blank(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	lines := strings.SplitAfter(string(src), "\n")
	off := 0
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "#") {
			for _, m := range c.macros {
				from := 0
				for {
					i := strings.Index(line[from:], m)
					if i < 0 {
						break
					}
					at := from + i
					if boundary(line, at, len(m)) {
						for k := 0; k < len(m); k++ {
							out[off+at+k] = ' '
						}
					}
					from = at + len(m)
				}
			}
		}
		off += len(line)
	}
	return out
}

func boundary(line string, at, n int) bool {
	isWord := func(c byte) bool {
		return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	if at > 0 && isWord(line[at-1]) {
		return false
	}
	if end := at + n; end < len(line) && isWord(line[end]) {
		return false
	}
	return true
}
