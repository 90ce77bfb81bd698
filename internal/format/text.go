package format

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Texter values render their own human-readable form.
type Texter interface {
	Text() string
}

// WriteText writes a human-readable rendering. A {"data": ...} envelope is
// unwrapped; Texter values render themselves and anything else is printed as
// an indented key/value outline.
func WriteText(w io.Writer, v any) error {
	if m, ok := v.(map[string]any); ok {
		if d, ok := m["data"]; ok {
			v = d
		}
	}
	if t, ok := v.(Texter); ok {
		s := t.Text()
		if !strings.HasSuffix(s, "\n") {
			s += "\n"
		}
		_, err := io.WriteString(w, s)
		return err
	}
	x, err := generic(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	writeTextAny(&buf, x, 0)
	if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "-", true
	case bool:
		return strconv.FormatBool(t), true
	case string:
		return t, true
	case float64:
		return formatNumber(t), true
	default:
		return "", false
	}
}

func writeTextAny(buf *bytes.Buffer, v any, level int) {
	ind := strings.Repeat("  ", level)
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := scalarText(t[k]); ok {
				fmt.Fprintf(buf, "%s%s: %s\n", ind, k, s)
				continue
			}
			if xs, ok := t[k].([]any); ok && len(xs) == 0 {
				fmt.Fprintf(buf, "%s%s: (none)\n", ind, k)
				continue
			}
			fmt.Fprintf(buf, "%s%s:\n", ind, k)
			writeTextAny(buf, t[k], level+1)
		}
	case []any:
		if len(t) == 0 {
			fmt.Fprintf(buf, "%s(none)\n", ind)
			return
		}
		for _, it := range t {
			if s, ok := scalarText(it); ok {
				fmt.Fprintf(buf, "%s- %s\n", ind, s)
				continue
			}
			fmt.Fprintf(buf, "%s-\n", ind)
			writeTextAny(buf, it, level+1)
		}
	default:
		s, _ := scalarText(t)
		fmt.Fprintf(buf, "%s%s\n", ind, s)
	}
}
