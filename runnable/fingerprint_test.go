package runnable

import "testing"

func TestFingerprintStableAcrossNonStructuralChanges(t *testing.T) {
	base := &Agent{
		Name:  "triage",
		Model: ModelConfig{Provider: "openai", Model: "gpt-4o"},
		Tools: []ToolRef{{Name: "lookup"}},
	}
	reprompted := &Agent{
		Name:         "triage",
		Instructions: "a completely different system prompt",
		Model:        ModelConfig{Provider: "anthropic", Model: "claude-opus"},
		Tools:        []ToolRef{{Name: "lookup", Description: "now documented"}},
	}

	if Fingerprint(base) != Fingerprint(reprompted) {
		t.Fatalf("fingerprint must ignore instructions and model config")
	}
}

func TestFingerprintChangesWithShape(t *testing.T) {
	a := &Sequence{Name: "s", Children: []Runnable{&Agent{Name: "a"}, &Agent{Name: "b"}}}
	b := &Sequence{Name: "s", Children: []Runnable{&Agent{Name: "a"}}}

	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("fingerprint must change when a child is removed")
	}
}

func TestFingerprintChangesWithToolSet(t *testing.T) {
	a := &Agent{Name: "a", Tools: []ToolRef{{Name: "x"}}}
	b := &Agent{Name: "a", Tools: []ToolRef{{Name: "x"}, {Name: "y"}}}

	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("fingerprint must change when the tool set changes")
	}
}

func TestOutcomeTerminal(t *testing.T) {
	if !Completed("ok").Terminal() {
		t.Fatalf("completed outcome must be terminal")
	}
	if Yielded(nil, true).Terminal() {
		t.Fatalf("yielded outcome must not be terminal")
	}
}
