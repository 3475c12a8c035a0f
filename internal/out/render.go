package out

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/ggonzalez94/cdp-cli/internal/config"
	"github.com/ggonzalez94/cdp-cli/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	return renderPlainEnvelope(w, env, data)
}

// renderPlainEnvelope prints data lines, then warnings, then one meta line.
// Failures print only the error and the meta line.
func renderPlainEnvelope(w io.Writer, env model.Envelope, data any) error {
	if env.Error != nil {
		msg := fmt.Sprintf("error: %s (exit %d): %s", env.Error.Type, env.Error.Code, env.Error.Message)
		if _, err := fmt.Fprintln(w, color.RedString(msg)); err != nil {
			return err
		}
	} else if err := renderPlain(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintln(w, color.YellowString("warning: "+warning)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, metaLine(env.Meta))
	return err
}

func metaLine(meta model.EnvelopeMeta) string {
	parts := []string{"# command=" + quoteIfSpaced(meta.Command)}
	if meta.Network != "" {
		parts = append(parts, "network="+meta.Network)
	}
	if meta.Cache.Status != "" {
		parts = append(parts, "cache="+meta.Cache.Status)
	}
	parts = append(parts, "request_id="+meta.RequestID)
	return strings.Join(parts, " ")
}

func quoteIfSpaced(v string) string {
	if strings.ContainsAny(v, " \t") {
		return fmt.Sprintf("%q", v)
	}
	return v
}

func renderPlain(w io.Writer, data any) error {
	switch t := normalizeValue(data).(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for _, item := range t {
			if _, err := fmt.Fprintln(w, toLine(item)); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(w, toLine(t))
		return err
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	// Numbers stay json.Number so uint256 fields survive projection.
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

// leadingFields puts identifiers and state first on swap, quote and
// transaction lines; remaining keys follow alphabetically.
var leadingFields = []string{
	"id", "quote_id", "kind", "network", "status", "account", "from", "to",
	"from_token", "to_token", "from_amount", "to_amount",
	"transaction_hash", "user_op_hash",
}

func toLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return compact(v)
	}
	rank := make(map[string]int, len(leadingFields))
	for i, k := range leadingFields {
		rank[k] = i
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		val := m[k]
		if s, ok := val.(string); ok {
			if s == "" {
				continue
			}
			if k == "status" {
				s = colorStatus(s)
			}
			parts = append(parts, k+"="+s)
			continue
		}
		parts = append(parts, k+"="+compact(val))
	}
	return strings.Join(parts, " ")
}

// compact prints nested values (typed data, call lists) as one-line JSON.
func compact(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(buf)
}

// colorStatus highlights swap and operation states. fatih/color drops the
// escapes when stdout is not a terminal.
func colorStatus(status string) string {
	switch strings.ToLower(status) {
	case "completed", "complete", "success", "ok":
		return color.GreenString(status)
	case "pending", "signed", "broadcast":
		return color.YellowString(status)
	case "failed", "reverted":
		return color.RedString(status)
	default:
		return status
	}
}
