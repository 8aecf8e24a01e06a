package models

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Package key helpers
// ---------------------------------------------------------------------------

func TestPackage_LowerKeys(t *testing.T) {
	p := &Package{ID: "Newtonsoft.Json", Version: "13.0.1-Beta"}
	if got := p.LowerID(); got != "newtonsoft.json" {
		t.Errorf("LowerID() = %q, want %q", got, "newtonsoft.json")
	}
	if got := p.LowerVersion(); got != "13.0.1-beta" {
		t.Errorf("LowerVersion() = %q, want %q", got, "13.0.1-beta")
	}
}

func TestPackage_CloneDoesNotShareSlices(t *testing.T) {
	p := &Package{
		ID:           "Foo",
		Authors:      StringList{"alice"},
		Dependencies: Dependencies{{ID: "Bar", VersionRange: "[1.0.0, )"}},
	}
	c := p.Clone()
	c.Authors[0] = "mallory"
	c.Dependencies[0].ID = "Baz"

	if p.Authors[0] != "alice" {
		t.Errorf("Clone() shares Authors backing array")
	}
	if p.Dependencies[0].ID != "Bar" {
		t.Errorf("Clone() shares Dependencies backing array")
	}
}

// ---------------------------------------------------------------------------
// JSON column Value / Scan
// ---------------------------------------------------------------------------

func TestStringList_ValueNil(t *testing.T) {
	var s StringList
	v, err := s.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if string(v.([]byte)) != "[]" {
		t.Errorf("Value() = %s, want []", v)
	}
}

func TestDependencies_Scan(t *testing.T) {
	tests := []struct {
		name    string
		src     interface{}
		wantLen int
		wantErr bool
	}{
		{"bytes", []byte(`[{"id":"Bar","version_range":"1.0.0"}]`), 1, false},
		{"string", `[{"id":"Bar"},{"id":"Baz"}]`, 2, false},
		{"nil", nil, 0, false},
		{"bad json", []byte(`{`), 0, true},
		{"unsupported type", 42, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Dependencies
			err := d.Scan(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(d) != tt.wantLen {
				t.Errorf("Scan() len = %d, want %d", len(d), tt.wantLen)
			}
		})
	}
}

func TestPackageTypes_RoundTripThroughColumn(t *testing.T) {
	in := PackageTypes{{Name: "DotnetTool"}}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	var out PackageTypes
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(out) != 1 || out[0].Name != "DotnetTool" {
		t.Errorf("Scan() = %+v, want DotnetTool", out)
	}
}
