package out

import (
	"fmt"
	"io"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ggonzalez94/semi-cli/internal/config"
	"github.com/ggonzalez94/semi-cli/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Render writes env to w in the configured output mode.
// --select keeps only the named fields of data; a dotted name such as
// results.tx_hash reaches into a nested list or object.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = selectFields(toGeneric(data), settings.SelectFields)
	}

	jsonMode := settings.OutputMode == "" || settings.OutputMode == "json"
	if settings.ResultsOnly {
		if jsonMode {
			return writeJSON(w, data)
		}
		return writePlain(w, data)
	}
	env.Data = data
	if jsonMode {
		return writeJSON(w, env)
	}
	return writePlain(w, toGeneric(env))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writePlain prints one key=value line per object, one object per line for lists.
func writePlain(w io.Writer, v any) error {
	generic := toGeneric(v)
	items, ok := generic.([]any)
	if !ok {
		_, err := fmt.Fprintln(w, plainLine(generic))
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(w, plainLine(item)); err != nil {
			return err
		}
	}
	return nil
}

func plainLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(buf)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := m[k]
		switch value.(type) {
		case map[string]any, []any:
			buf, _ := json.Marshal(value)
			parts = append(parts, fmt.Sprintf("%s=%s", k, buf))
		case nil:
			parts = append(parts, k+"=")
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, value))
		}
	}
	return strings.Join(parts, " ")
}

func selectFields(data any, fields []string) any {
	switch t := data.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, selectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return selectMap(t, fields)
	default:
		return data
	}
}

func selectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	nested := map[string][]string{}
	var order []string
	for _, f := range fields {
		head, rest, dotted := strings.Cut(f, ".")
		if !dotted {
			if v, ok := m[f]; ok {
				out[f] = v
			}
			continue
		}
		if _, seen := nested[head]; !seen {
			order = append(order, head)
		}
		nested[head] = append(nested[head], rest)
	}
	for _, head := range order {
		if v, ok := m[head]; ok {
			out[head] = selectFields(v, nested[head])
		}
	}
	return out
}

// toGeneric round-trips v through JSON so typed results project like maps.
func toGeneric(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}
