package llm

import (
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced object", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around array", "Here are the claims:\n[{\"claim\":\"x\"}]\nDone.", `[{"claim":"x"}]`},
		{"object containing array", `note {"claims":[1,2]} end`, `{"claims":[1,2]}`},
		{"no json", "no payload here", "no payload here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.input); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRecoverArray(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"complete array", `[{"claim":"a"},{"claim":"b"}]`, 2},
		{"truncated tail", `[{"claim":"a"},{"claim":"b"},{"cla`, 2},
		{"garbage after first", `[{"claim":"a"}, nonsense]`, 1},
		{"prefixed by prose", `Output: [{"claim":"a"}`, 1},
		{"not an array", `{"claim":"a"}`, 0},
		{"broken first element", `[{"claim":`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecoverArray(tt.input); len(got) != tt.want {
				t.Errorf("RecoverArray(%q) returned %d items, want %d", tt.input, len(got), tt.want)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	payload, recovered, err := decodePayload("```\n[1,2,3]\n```", false)
	if err != nil || recovered || string(payload) != "[1,2,3]" {
		t.Errorf("Unexpected result: %s %v %v", payload, recovered, err)
	}

	if _, _, err := decodePayload(`[{"claim":"a"},{"claim"`, false); err == nil {
		t.Error("Expected error without array recovery")
	}

	payload, recovered, err = decodePayload(`[{"claim":"a"},{"claim"`, true)
	if err != nil || !recovered {
		t.Fatalf("Expected recovered payload, got %v", err)
	}
	if !strings.HasPrefix(string(payload), `[{"claim":"a"}`) {
		t.Errorf("Unexpected payload: %s", payload)
	}

	if _, _, err := decodePayload(`[`, true); err == nil {
		t.Error("An empty recovered prefix must fail")
	}
}
