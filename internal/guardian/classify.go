package guardian

import (
	"encoding/json"
	"strings"
)

// knownActions maps known tool names to their action type and base risk.
// Unknown tools fall through to a generic classification derived from their
// declared risk level (passed in by the caller via ClassifyWithRisk).
var knownActions = map[string]struct {
	actionType ActionType
	risk       RiskLevel
}{
	"read":          {ActionRead, RiskReadOnly},
	"file_read":     {ActionRead, RiskReadOnly},
	"memory_search": {ActionRead, RiskReadOnly},
	"web_search":    {ActionRead, RiskReadOnly},
	"web_fetch":     {ActionNetwork, RiskReadOnly},
	"write":         {ActionWrite, RiskWrite},
	"edit":          {ActionWrite, RiskWrite},
	"exec":          {ActionExecute, RiskExecute},
	"execute_code":  {ActionExecute, RiskExecute},
	"delete":        {ActionDestructive, RiskDestructive},
	"rm":            {ActionDestructive, RiskDestructive},
}

// Classify parses a tool call into typed ActionDetails. declaredRisk is the
// tool's own static risk_level (§4.3); it is used verbatim for tools absent
// from the explicit mapping.
func Classify(toolName string, arguments json.RawMessage, declaredRisk RiskLevel) ActionDetails {
	name := strings.ToLower(strings.TrimSpace(toolName))
	details := ActionDetails{ToolName: toolName, Type: ActionUnknown, BaseRisk: declaredRisk}

	if known, ok := knownActions[name]; ok {
		details.Type = known.actionType
		details.BaseRisk = known.risk
	}

	var fields struct {
		Path    string   `json:"path"`
		Paths   []string `json:"paths"`
		Command string   `json:"command"`
		Cmd     string   `json:"cmd"`
	}
	if len(arguments) > 0 {
		_ = json.Unmarshal(arguments, &fields)
	}

	if fields.Path != "" {
		details.Paths = append(details.Paths, fields.Path)
	}
	details.Paths = append(details.Paths, fields.Paths...)

	details.Command = fields.Command
	if details.Command == "" {
		details.Command = fields.Cmd
	}

	details.BlastRadius = len(details.Paths)
	if details.BlastRadius == 0 && details.Command != "" {
		details.BlastRadius = 1
	}

	return details
}
