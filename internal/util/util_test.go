package util

import (
	"encoding/json"
	"testing"
)

func TestToInt64(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int64
		wantOK bool
	}{
		{"int", 7, 7, true},
		{"float", 12.9, 12, true},
		{"json integer", json.Number("42"), 42, true},
		{"json fraction", json.Number("42.5"), 42, true},
		{"nil", nil, 0, false},
		{"string", "12", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ToInt64(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecodeJSONMap(t *testing.T) {
	m, err := DecodeJSONMap([]byte(`{"none": 80, "reject": null}`))
	if err != nil {
		t.Fatalf("DecodeJSONMap error = %v", err)
	}
	if _, ok := m["none"].(json.Number); !ok {
		t.Errorf("none = %T, want json.Number", m["none"])
	}

	if _, err := DecodeJSONMap([]byte(`{} {}`)); err == nil {
		t.Error("expected error for trailing content")
	}

	m, err = DecodeJSONMap([]byte(`null`))
	if err != nil {
		t.Fatalf("DecodeJSONMap(null) error = %v", err)
	}
	if m == nil {
		t.Error("DecodeJSONMap(null) returned nil map")
	}
}

func TestFormat(t *testing.T) {
	if got := Count(1234567); got != "1,234,567" {
		t.Errorf("Count = %q", got)
	}
	if got := Bytes(0); got != "0 B" {
		t.Errorf("Bytes(0) = %q", got)
	}
	if got := Bytes(1536); got != "1.5 KiB" {
		t.Errorf("Bytes(1536) = %q", got)
	}
	if got := Percent(80); got != "80.0%" {
		t.Errorf("Percent(80) = %q", got)
	}
	if got := Ago(0); got != "-" {
		t.Errorf("Ago(0) = %q", got)
	}
}
