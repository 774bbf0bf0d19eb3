package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/signadot/ydoc/value"
)

type jsonColors struct {
	key, str, num, lit, sep func(string, ...any) string
}

func newJSONColors() *jsonColors {
	return &jsonColors{
		key: color.RGB(128, 168, 196).SprintfFunc(),
		str: color.RGB(8, 196, 16).SprintfFunc(),
		num: color.RGB(128, 216, 236).SprintfFunc(),
		lit: color.CyanString,
		sep: color.RGB(196, 128, 128).SprintfFunc(),
	}
}

// writeJSON writes v indented by two spaces. c may be nil.
func writeJSON(w io.Writer, v value.Any, c *jsonColors) error {
	if c == nil {
		c = &jsonColors{key: fmt.Sprintf, str: fmt.Sprintf, num: fmt.Sprintf, lit: fmt.Sprintf, sep: fmt.Sprintf}
	}
	bw := bufio.NewWriter(w)
	jw := &jsonWriter{w: bw, c: c}
	jw.value(v, 0)
	bw.WriteByte('\n')
	return bw.Flush()
}

type jsonWriter struct {
	w *bufio.Writer
	c *jsonColors
}

func (jw *jsonWriter) indent(depth int) {
	jw.w.WriteByte('\n')
	jw.w.WriteString(strings.Repeat("  ", depth))
}

func (jw *jsonWriter) value(v value.Any, depth int) {
	switch v.Type {
	case value.ArrayType:
		if len(v.Values) == 0 {
			jw.w.WriteString(jw.c.sep("[]"))
			return
		}
		jw.w.WriteString(jw.c.sep("["))
		for i, e := range v.Values {
			if i > 0 {
				jw.w.WriteString(jw.c.sep(","))
			}
			jw.indent(depth + 1)
			jw.value(e, depth+1)
		}
		jw.indent(depth)
		jw.w.WriteString(jw.c.sep("]"))
	case value.MapType:
		keys := v.Keys()
		if len(keys) == 0 {
			jw.w.WriteString(jw.c.sep("{}"))
			return
		}
		jw.w.WriteString(jw.c.sep("{"))
		for i, k := range keys {
			if i > 0 {
				jw.w.WriteString(jw.c.sep(","))
			}
			jw.indent(depth + 1)
			jw.w.WriteString(jw.c.key("%s", value.String(k)))
			jw.w.WriteString(jw.c.sep(": "))
			jw.value(v.Fields[k], depth+1)
		}
		jw.indent(depth)
		jw.w.WriteString(jw.c.sep("}"))
	case value.StringType:
		jw.w.WriteString(jw.c.str("%s", v.String()))
	case value.NumberType, value.BigIntType:
		jw.w.WriteString(jw.c.num("%s", v.String()))
	default:
		jw.w.WriteString(jw.c.lit("%s", v.String()))
	}
}
