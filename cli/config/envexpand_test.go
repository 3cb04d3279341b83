package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("AGENT_SET", "value")
	t.Setenv("AGENT_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "key: ${AGENT_SET}", "key: value"},
		{"unset", "key: ${AGENT_UNSET}", "key: "},
		{"default when unset", "key: ${AGENT_UNSET:-fallback}", "key: fallback"},
		{"default when empty", "key: ${AGENT_EMPTY:-fallback}", "key: fallback"},
		{"default ignored when set", "key: ${AGENT_SET:-fallback}", "key: value"},
		{"multiple", "${AGENT_SET}-${AGENT_UNSET:-x}-${AGENT_SET}", "value-x-value"},
		{"no references", "plain $AGENT_SET text", "plain $AGENT_SET text"},
		{"required and set", "${AGENT_SET:?needed}", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RequiredMissing(t *testing.T) {
	t.Setenv("AGENT_EMPTY", "")
	_, err := ExpandEnv("a: ${AGENT_UNSET:?set the api key}\nb: ${AGENT_EMPTY:?}")
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	for _, want := range []string{"AGENT_UNSET: set the api key", "AGENT_EMPTY: required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should contain %q", err, want)
		}
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-123")

	input := `generation:
  provider: openai
  api_key: ${DASHSCOPE_API_KEY}`
	want := `generation:
  provider: openai
  api_key: sk-123`

	got, err := ExpandEnv(input)
	if err != nil {
		t.Fatalf("ExpandEnv failed: %v", err)
	}
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
