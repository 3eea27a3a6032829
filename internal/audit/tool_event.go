package audit

import (
	"context"

	"github.com/agentcore/runtime/pkg/models"
)

// ObserveToolEvent maps one Tool Registry & Dispatcher lifecycle event
// (§4.3) onto the audit trail, routing by stage to the matching Log*
// method. sessionKey scopes the event to the originating session.
func (l *Logger) ObserveToolEvent(ctx context.Context, sessionKey string, ev *models.ToolEvent) {
	if l == nil || ev == nil {
		return
	}

	switch ev.Stage {
	case models.ToolEventRequested, models.ToolEventStarted:
		l.LogToolInvocation(ctx, ev.ToolName, ev.ToolCallID, ev.Input, sessionKey)
	case models.ToolEventSucceeded, models.ToolEventFailed:
		duration := ev.FinishedAt.Sub(ev.StartedAt)
		l.LogToolCompletion(ctx, ev.ToolName, ev.ToolCallID, ev.Stage == models.ToolEventSucceeded, ev.Output, duration, sessionKey)
		if ev.Stage == models.ToolEventFailed && ev.Error != "" {
			l.LogError(ctx, EventAgentError, "tool_failed", ev.Error, map[string]any{
				"tool_name":    ev.ToolName,
				"tool_call_id": ev.ToolCallID,
			}, sessionKey)
		}
	case models.ToolEventDenied:
		l.LogToolDenied(ctx, ev.ToolName, ev.ToolCallID, ev.Error, ev.PolicyReason, sessionKey)
	}
}

// ObserveRuntimeEvent maps one Agent Loop lifecycle event (§4.5) onto the
// audit trail. Currently handles the Safety Guardian's approval decision
// (§4.4); other runtime event types have no audit-relevant payload.
func (l *Logger) ObserveRuntimeEvent(ctx context.Context, sessionKey string, ev *models.RuntimeEvent) {
	if l == nil || ev == nil {
		return
	}

	if ev.Type == models.EventApprovalDecision {
		granted := ev.Message == "approved"
		l.LogPermissionDecision(ctx, granted, "tool_execution", ev.ToolName, "dispatch", ev.Message, sessionKey)
	}
}
