package guardian

import (
	"encoding/json"
	"testing"
)

func TestClassify_KnownAction(t *testing.T) {
	action := Classify("exec", json.RawMessage(`{"command":"rm -rf /tmp/x"}`), RiskReadOnly)
	if action.Type != ActionExecute {
		t.Errorf("type = %s, want %s", action.Type, ActionExecute)
	}
	if action.BaseRisk != RiskExecute {
		t.Errorf("risk = %s, want %s", action.BaseRisk, RiskExecute)
	}
	if action.Command != "rm -rf /tmp/x" {
		t.Errorf("command = %q", action.Command)
	}
	if action.BlastRadius != 1 {
		t.Errorf("blast radius = %d, want 1", action.BlastRadius)
	}
}

func TestClassify_UnknownToolUsesDeclaredRisk(t *testing.T) {
	action := Classify("some_custom_tool", json.RawMessage(`{}`), RiskExecute)
	if action.Type != ActionUnknown {
		t.Errorf("type = %s, want %s", action.Type, ActionUnknown)
	}
	if action.BaseRisk != RiskExecute {
		t.Errorf("risk = %s, want %s", action.BaseRisk, RiskExecute)
	}
}

func TestClassify_PathsAndPathsArray(t *testing.T) {
	action := Classify("write", json.RawMessage(`{"path":"/a","paths":["/b","/c"]}`), RiskReadOnly)
	if len(action.Paths) != 3 {
		t.Fatalf("paths = %v, want 3 entries", action.Paths)
	}
	if action.Paths[0] != "/a" {
		t.Errorf("paths[0] = %q, want /a", action.Paths[0])
	}
	if action.BlastRadius != 3 {
		t.Errorf("blast radius = %d, want 3", action.BlastRadius)
	}
}

func TestClassify_CmdFallsBackWhenCommandEmpty(t *testing.T) {
	action := Classify("exec", json.RawMessage(`{"cmd":"ls"}`), RiskReadOnly)
	if action.Command != "ls" {
		t.Errorf("command = %q, want ls", action.Command)
	}
}

func TestClassify_EmptyArgumentsHasZeroBlastRadius(t *testing.T) {
	action := Classify("read", nil, RiskReadOnly)
	if action.BlastRadius != 0 {
		t.Errorf("blast radius = %d, want 0", action.BlastRadius)
	}
	if len(action.Paths) != 0 {
		t.Errorf("paths = %v, want empty", action.Paths)
	}
}

func TestRiskLevel_Escalate(t *testing.T) {
	cases := []struct {
		in   RiskLevel
		want RiskLevel
	}{
		{RiskReadOnly, RiskWrite},
		{RiskWrite, RiskExecute},
		{RiskExecute, RiskDestructive},
		{RiskDestructive, RiskDestructive},
	}
	for _, c := range cases {
		if got := c.in.escalate(); got != c.want {
			t.Errorf("%s.escalate() = %s, want %s", c.in, got, c.want)
		}
	}
}
