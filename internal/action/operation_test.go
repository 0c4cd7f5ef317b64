package action

import "testing"

func TestEnvelope_Payloads(t *testing.T) {
	env := Envelope{ID: "ledger", LegacyPrefix: "lg_"}
	tests := []struct {
		name  string
		id    string
		data  string
		names []string
	}{
		{"object", "ledger", `{"action":"test","params":{"type":"hello"}}`, []string{"test"}},
		{"object without params", "ledger", `{"action":"test"}`, []string{"test"}},
		{"array", "ledger", `[{"action":"a","params":{}},{"action":"b","params":{}}]`, []string{"a", "b"}},
		{"array skips malformed", "ledger", `[{"action":"a"},{"nope":1},7,{"action":"c"}]`, []string{"a", "c"}},
		{"legacy prefix", "lg_token_transfer", `{"to":"bob","qty":1}`, []string{"token_transfer"}},
		{"legacy non-object", "lg_token_transfer", `[1,2]`, nil},
		{"bare prefix", "lg_", `{}`, nil},
		{"foreign id", "other_app", `{"action":"test"}`, nil},
		{"malformed json", "ledger", `{"action":`, nil},
		{"empty action", "ledger", `{"action":""}`, nil},
		{"scalar", "ledger", `"hello"`, nil},
		{"empty", "ledger", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := env.Payloads(tt.id, tt.data)
			if len(got) != len(tt.names) {
				t.Fatalf("Payloads() = %d actions, want %d", len(got), len(tt.names))
			}
			for i, p := range got {
				if p.Name != tt.names[i] {
					t.Errorf("payload %d = %q, want %q", i, p.Name, tt.names[i])
				}
				if len(p.Params) == 0 {
					t.Errorf("payload %d has empty params", i)
				}
			}
		})
	}
}

func TestEnvelope_LegacyParamsAreWholeJSON(t *testing.T) {
	env := Envelope{ID: "ledger", LegacyPrefix: "lg_"}
	got := env.Payloads("lg_stake_tokens", `{"qty":5}`)
	if len(got) != 1 || string(got[0].Params) != `{"qty":5}` {
		t.Fatalf("Payloads() = %+v", got)
	}
}

func TestActionID(t *testing.T) {
	if ActionID("abc", 0) != "abc" {
		t.Errorf("ActionID(abc, 0) = %q", ActionID("abc", 0))
	}
	if ActionID("abc", 2) != "abc-2" {
		t.Errorf("ActionID(abc, 2) = %q", ActionID("abc", 2))
	}
	if VirtualTrxID("unstake_release", 42) != "virtual_unstake_release_42" {
		t.Errorf("VirtualTrxID = %q", VirtualTrxID("unstake_release", 42))
	}
}
