// Package render formats command output for the agent-template CLI.
//
// Format selection:
//   - --format always wins
//   - otherwise table on a terminal, json when piped
//
// --no-color only affects table output and streamed chat events.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. An empty string returns "" so the
// caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer writes values in one format.
type Renderer struct {
	format Format
	styles Styles
	out    io.Writer
	tty    bool
}

// NewRenderer builds a renderer for the app's writer from the --format and
// --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isTTY(f)
	}
	if format == "" {
		format = FormatJSON
		if tty {
			format = FormatTable
		}
	}
	r := NewRendererWithWriter(format, c.Bool("no-color") || !tty, out)
	r.tty = tty
	return r, nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, styles: NewStyles(noColor), out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Styles returns the renderer's styles.
func (r *Renderer) Styles() Styles { return r.styles }

// Interactive reports whether table output goes to a terminal, where the
// chat command can redraw the screen.
func (r *Renderer) Interactive() bool { return r.tty && r.format == FormatTable }

// Writer returns the output writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

func (r *Renderer) renderTable(data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice {
		return r.renderRows(v)
	}
	return r.renderRecord(indirect(v))
}

// renderRows prints one row per element with the first element's columns.
func (r *Renderer) renderRows(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, r.styles.Muted.Render("(no results)"))
		return err
	}
	cols := columns(indirect(v.Index(0)))

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = r.styles.Header.Render(strings.ToUpper(c.name))
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for i := 0; i < v.Len(); i++ {
		row := indirect(v.Index(i))
		cells := make([]string, len(cols))
		for j, c := range cols {
			cells[j] = formatValue(c.get(row))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

func (r *Renderer) renderRecord(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		for _, c := range columns(v) {
			fmt.Fprintf(w, "%s\t%s\n", r.styles.Label.Render(c.name+":"), formatValue(c.get(v)))
		}
	default:
		fmt.Fprintf(w, "%v\n", formatValue(v))
	}
	return w.Flush()
}

type column struct {
	name string
	get  func(reflect.Value) reflect.Value
}

// columns lists the exported fields of a struct (embedded structs are
// flattened, json names preferred) or the sorted keys of a map.
func columns(v reflect.Value) []column {
	switch v.Kind() {
	case reflect.Struct:
		return structColumns(v.Type(), nil)
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		cols := make([]column, 0, len(keys))
		for _, k := range keys {
			cols = append(cols, column{
				name: fmt.Sprint(k.Interface()),
				get:  func(m reflect.Value) reflect.Value { return m.MapIndex(k) },
			})
		}
		return cols
	}
	return nil
}

func structColumns(t reflect.Type, index []int) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		idx := append(append([]int(nil), index...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			cols = append(cols, structColumns(f.Type, idx)...)
			continue
		}
		name := fieldName(f)
		if name == "" {
			continue
		}
		cols = append(cols, column{
			name: name,
			get:  func(s reflect.Value) reflect.Value { return s.FieldByIndex(idx) },
		})
	}
	return cols
}

func fieldName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch tag {
	case "-":
		return ""
	case "":
		return strings.ToLower(f.Name)
	}
	return tag
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	v = indirect(v)
	if !v.IsValid() || ((v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil()) {
		return ""
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format(time.DateTime)
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	}
	return fmt.Sprint(v.Interface())
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// plain returns a style that renders text unchanged.
func plain() lipgloss.Style { return lipgloss.NewStyle() }
