package mrn

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		scheme Scheme
		valid  bool
	}{
		{"generic mrn", "urn:mrn:iala:aton:1234", Any, true},
		{"mcp identity under generic scheme", "urn:mrn:mcp:id:aboamare:vessel:1", Any, true},
		{"mcp identity", "urn:mrn:mcp:id:aboamare:vessel:1", MCP, true},
		{"generic mrn under mcp scheme", "urn:mrn:iala:aton:1234", MCP, false},
		{"not a urn", "vessel-1", Any, false},
		{"prefix only", "urn:mrn:", Any, false},
		{"embedded space", "urn:mrn:mcp:id:a b", MCP, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input, tt.scheme)
			if tt.valid && err != nil {
				t.Errorf("Validate(%q) returned error: %v", tt.input, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Validate(%q) expected an error", tt.input)
			}
		})
	}
}

func TestValidate_UnknownScheme(t *testing.T) {
	if err := Validate("urn:mrn:x", Scheme(42)); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}
