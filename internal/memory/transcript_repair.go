package memory

import "github.com/agentcore/runtime/pkg/models"

// repairTranscript drops tool_result entries that don't reference a
// tool_call_id pending from the immediately preceding assistant message,
// and assigns the oldest pending ID to a result missing one entirely. A
// transcript seeded from outside the running process (a host resuming a
// session_id across requests) can otherwise hand the provider a tool
// result with no matching call, which most providers reject outright.
func repairTranscript(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	pending := make(map[string]struct{})
	pendingOrder := make([]string, 0)
	repaired := make([]models.Message, 0, len(history))

	clearPending := func() {
		for k := range pending {
			delete(pending, k)
		}
		pendingOrder = pendingOrder[:0]
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			clearPending()
			for _, call := range msg.ToolCalls {
				if call.CallID == "" {
					continue
				}
				pending[call.CallID] = struct{}{}
				pendingOrder = append(pendingOrder, call.CallID)
			}
			repaired = append(repaired, msg)
		case models.RoleTool:
			if len(msg.ToolResults) == 0 {
				continue
			}
			fixed := make([]models.ToolResult, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				res := result
				if res.ToolCallID == "" && len(pendingOrder) > 0 {
					res.ToolCallID = pendingOrder[0]
				}
				if res.ToolCallID == "" {
					continue
				}
				if _, ok := pending[res.ToolCallID]; ok {
					delete(pending, res.ToolCallID)
					pendingOrder = removeID(pendingOrder, res.ToolCallID)
					fixed = append(fixed, res)
				}
			}
			if len(fixed) == 0 {
				continue
			}
			msg.ToolResults = fixed
			repaired = append(repaired, msg)
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			copy(ids[i:], ids[i+1:])
			return ids[:len(ids)-1]
		}
	}
	return ids
}
