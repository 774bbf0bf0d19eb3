// Package query evaluates $-rooted paths over the roots of a document.
//
// A path is a sequence of steps:
//
//	$            the document, whose fields are its roots
//	.f  ['f']    field f of a map
//	.'f'         field f, quoted
//	[n]          element n of an array
//	[*]          every element or field value
//	..           the node and all its descendants
//	[?(expr)]    every element or field value for which expr holds
//
// Filters are expr-lang expressions. The candidate is bound to @ (also
// spelled it), its field name or index to key.
package query

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var ErrParse = errors.New("query: parse error")

// Path is one step of a parsed path and a link to the rest.
type Path struct {
	IndexAll bool
	Index    *int
	Field    *string
	Subtree  bool
	Filter   string
	Next     *Path

	prog *vm.Program
}

func (p *Path) String() string {
	buf := bytes.NewBuffer([]byte{'$'})
	afterSubtree := false
	for x := p; x != nil; x = x.Next {
		dot := "."
		if afterSubtree {
			dot = ""
		}
		afterSubtree = x.Subtree
		switch {
		case x.Subtree:
			buf.WriteString("..")
		case x.IndexAll:
			buf.WriteString("[*]")
		case x.prog != nil:
			buf.WriteString("[?(" + x.Filter + ")]")
		case x.Field != nil:
			f := *x.Field
			if f != "" && strings.IndexAny(f, "'.*$[]() ") == -1 {
				buf.WriteString(dot + f)
			} else {
				buf.WriteString("['" + strings.ReplaceAll(f, "'", "\\'") + "']")
			}
		case x.Index != nil:
			fmt.Fprintf(buf, "[%d]", *x.Index)
		}
	}
	return buf.String()
}

// Parse parses a path.
func Parse(p string) (*Path, error) {
	if len(p) == 0 || p[0] != '$' {
		return nil, fmt.Errorf("%w: path %q should start with '$'", ErrParse, p)
	}
	root := &Path{}
	if len(p) == 1 {
		return root, nil
	}
	if err := parseFrag(p[1:], root); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrParse, p, err)
	}
	return root, nil
}

func parseFrag(frag string, parent *Path) error {
	if len(frag) == 0 {
		return nil
	}
	var rest string
	switch frag[0] {
	case '.':
		if len(frag) > 1 && frag[1] == '.' {
			parent.Subtree = true
			rest = frag[2:]
			next := &Path{}
			parent.Next = next
			if len(rest) > 0 && rest[0] != '.' && rest[0] != '[' {
				// $..f
				rest = "." + rest
			}
			return parseFrag(rest, next)
		}
		field, r, err := parseField(frag[1:])
		if err != nil {
			return err
		}
		parent.Field = &field
		rest = r
	case '[':
		r, err := parseBracket(frag[1:], parent)
		if err != nil {
			return err
		}
		rest = r
	default:
		return fmt.Errorf("expected '.' or '[' at %q", frag)
	}
	if len(rest) == 0 {
		return nil
	}
	next := &Path{}
	parent.Next = next
	return parseFrag(rest, next)
}

// parseBracket parses the step after '[' and returns what follows the
// closing ']'.
func parseBracket(frag string, p *Path) (string, error) {
	if len(frag) == 0 {
		return "", fmt.Errorf("expected '[' <index> ']'")
	}
	switch frag[0] {
	case '\'':
		field, rest, err := parseQuoted(frag)
		if err != nil {
			return "", err
		}
		if len(rest) == 0 || rest[0] != ']' {
			return "", fmt.Errorf("expected ']' after field %q", field)
		}
		p.Field = &field
		return rest[1:], nil
	case '?':
		src, rest, err := parseFilter(frag[1:])
		if err != nil {
			return "", err
		}
		prog, err := compileFilter(src)
		if err != nil {
			return "", err
		}
		p.Filter, p.prog = src, prog
		return rest, nil
	}
	i := strings.IndexByte(frag, ']')
	if i == -1 {
		return "", fmt.Errorf("expected '[' <index> ']'")
	}
	index, all, err := parseIndex(frag[:i])
	if err != nil {
		return "", err
	}
	p.IndexAll = all
	if !all {
		p.Index = &index
	}
	return frag[i+1:], nil
}

func parseIndex(is string) (index int, all bool, err error) {
	if is == "*" {
		return 0, true, nil
	}
	u64, err := strconv.ParseUint(is, 10, 31)
	if err != nil {
		return 0, false, err
	}
	return int(u64), false, nil
}

func parseField(frag string) (field, rest string, err error) {
	if len(frag) == 0 {
		return "", "", fmt.Errorf("expected field at end of string")
	}
	if frag[0] == '\'' {
		return parseQuoted(frag)
	}
	i := strings.IndexAny(frag, ".[")
	if i == -1 {
		return frag, "", nil
	}
	if i == 0 {
		return "", "", fmt.Errorf("empty field before %q", frag)
	}
	return frag[:i], frag[i:], nil
}

// parseQuoted reads a '-quoted field at the start of frag.
func parseQuoted(frag string) (field, rest string, err error) {
	escaped := false
	res := make([]byte, 0, len(frag))
	for i := 1; i < len(frag); i++ {
		c := frag[i]
		switch {
		case c == '\\' && !escaped:
			escaped = true
		case c == '\'' && !escaped:
			return string(res), frag[i+1:], nil
		default:
			escaped = false
			res = append(res, c)
		}
	}
	return "", "", fmt.Errorf("end of string scanning for \"'\"")
}

// parseFilter reads "(expr)]" and returns expr.
func parseFilter(frag string) (src, rest string, err error) {
	if len(frag) == 0 || frag[0] != '(' {
		return "", "", fmt.Errorf("expected '(' after '[?'")
	}
	depth := 0
	var quote byte
	for i := 0; i < len(frag); i++ {
		c := frag[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				if i+1 >= len(frag) || frag[i+1] != ']' {
					return "", "", fmt.Errorf("expected ')]' closing filter")
				}
				return strings.TrimSpace(frag[1:i]), frag[i+2:], nil
			}
		}
	}
	return "", "", fmt.Errorf("unterminated filter %q", frag)
}

func compileFilter(src string) (*vm.Program, error) {
	if src == "" {
		return nil, fmt.Errorf("empty filter")
	}
	prog, err := expr.Compile(bindCurrent(src), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", src, err)
	}
	return prog, nil
}

// bindCurrent rewrites @ outside string literals to the variable it.
func bindCurrent(src string) string {
	var sb strings.Builder
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			sb.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(src) {
					i++
					sb.WriteByte(src[i])
				}
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
			sb.WriteByte(c)
		case '@':
			sb.WriteString("it")
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
