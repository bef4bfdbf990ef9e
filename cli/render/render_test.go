package render

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseFormat("csv"); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

type runInfo struct {
	RunID    string `json:"run_id" yaml:"run_id"`
	NumParts int    `json:"num_parts" yaml:"num_parts"`
	Outcome  string `json:"outcome" yaml:"outcome"`
}

func render(t *testing.T, format Format, noColor bool, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewRendererWithWriter(format, noColor, &buf).Render(data); err != nil {
		t.Fatalf("Render(%s) failed: %v", format, err)
	}
	return buf.String()
}

func TestRenderer_Formats(t *testing.T) {
	data := runInfo{RunID: "run-7", NumParts: 16, Outcome: "success"}
	tests := []struct {
		format Format
		want   []string
	}{
		{FormatJSON, []string{`"run_id": "run-7"`, `"num_parts": 16`}},
		{FormatYAML, []string{"run_id: run-7", "num_parts: 16"}},
		{FormatTable, []string{"field", "value", "run_id", "run-7", "num_parts", "16"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			got := render(t, tt.format, true, data)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("%s output missing %q:\n%s", tt.format, want, got)
				}
			}
		})
	}
}

func TestRenderer_Table_FieldsSorted(t *testing.T) {
	got := render(t, FormatTable, true, runInfo{RunID: "r", NumParts: 1, Outcome: "timeout"})
	iNum, iOut, iRun := strings.Index(got, "num_parts"), strings.Index(got, "outcome"), strings.Index(got, "run_id")
	if iNum >= iOut || iOut >= iRun {
		t.Errorf("fields not sorted:\n%s", got)
	}
}

func TestRenderer_Table_SliceOfObjects(t *testing.T) {
	data := []runInfo{
		{RunID: "first", NumParts: 2},
		{RunID: "second", NumParts: 4},
	}
	got := render(t, FormatTable, true, data)
	for _, want := range []string{"run_id", "num_parts", "first", "second"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "field") {
		t.Errorf("slice should render one column per key:\n%s", got)
	}
}

func TestRenderer_Table_Empty(t *testing.T) {
	for _, data := range []any{[]string{}, map[string]any{}} {
		if got := render(t, FormatTable, false, data); !strings.Contains(got, "(no results)") {
			t.Errorf("Render(%T) = %q, want (no results)", data, got)
		}
	}
}

func TestRenderer_Table_NestedValues(t *testing.T) {
	data := map[string]any{
		"failed": []int{1, 3},
		"info":   map[string]string{"a": "1", "b": "2"},
		"none":   nil,
	}
	got := render(t, FormatTable, true, data)
	for _, want := range []string{"[1, 3]", "{2 keys}"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
}

type fleetRows struct{}

func (fleetRows) Table() ([]string, [][]string) {
	return []string{"actor", "state"}, [][]string{{"0", "done"}, {"1", "error"}}
}

func TestRenderer_Table_Tabular(t *testing.T) {
	got := render(t, FormatTable, true, fleetRows{})
	for _, want := range []string{"actor", "state", "done", "error"} {
		if !strings.Contains(got, want) {
			t.Errorf("Table output missing %q: %s", want, got)
		}
	}
	if strings.Contains(got, "field") {
		t.Errorf("Tabular payload should not use field/value layout: %s", got)
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	data := runInfo{RunID: "r"}
	if render(t, FormatJSON, false, data) != render(t, FormatJSON, true, data) {
		t.Errorf("--no-color should not affect JSON output")
	}
}

func TestRenderer_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter("xml", false, &buf).Render(runInfo{}); err == nil {
		t.Error("Render with unknown format should fail")
	}
}
