package security

import (
	"fmt"

	"github.com/agentcore/runtime/internal/config"
)

// AuditGatewayConfig checks the host API's listener configuration (§6): a
// missing or short JWT secret, an unbounded token lifetime, and metrics
// exposed without a dedicated port are all ways the gateway leaks trust it
// shouldn't.
func AuditGatewayConfig(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding

	switch {
	case cfg.Server.JWTSecret == "":
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.jwt_secret_missing",
			Severity:    SeverityCritical,
			Title:       "server.jwt_secret is not set",
			Detail:      "The host API refuses to start serving without it, but an empty value in a config meant for production means no deployment has actually set a secret.",
			Remediation: "Set server.jwt_secret to a high-entropy random value, ideally injected from a secret store rather than committed to the config file.",
		})
	case len(cfg.Server.JWTSecret) < 32:
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.jwt_secret_weak",
			Severity:    SeverityWarn,
			Title:       "server.jwt_secret is short",
			Detail:      fmt.Sprintf("server.jwt_secret is %d bytes; HMAC-signed tokens with a short secret are brute-forceable.", len(cfg.Server.JWTSecret)),
			Remediation: "Use a secret of at least 32 bytes (256 bits).",
		})
	}

	if cfg.Server.TokenExpiry <= 0 {
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.token_expiry_unbounded",
			Severity:    SeverityWarn,
			Title:       "server.token_expiry is unset",
			Detail:      "A zero or negative token_expiry is treated by the token service as never-expiring, so a leaked bearer token stays valid indefinitely.",
			Remediation: "Set server.token_expiry to a bounded duration, e.g. 1h.",
		})
	}

	if cfg.Server.HTTPPort != 0 && cfg.Server.HTTPPort == cfg.Server.MetricsPort {
		findings = append(findings, AuditFinding{
			CheckID:     "gateway.metrics_port_collision",
			Severity:    SeverityWarn,
			Title:       "metrics_port matches http_port",
			Detail:      "Serving /metrics on the same listener as the authenticated task API exposes internal counters to anyone who can reach the gateway.",
			Remediation: "Give server.metrics_port a distinct value, or restrict it at the network layer.",
		})
	}

	return findings
}

// auditConfigContent checks the Safety Guardian's posture (§4.4): an
// approval mode or trust level that grants too much autonomy by default,
// and deny-lists left empty.
func auditConfigContent(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding

	if cfg.Safety.ApprovalMode == "yolo" {
		findings = append(findings, AuditFinding{
			CheckID:     "safety.approval_mode_yolo",
			Severity:    SeverityCritical,
			Title:       "safety.approval_mode is yolo",
			Detail:      "yolo skips Guardian approval entirely for every action, including destructive ones, regardless of trust level or policy rules.",
			Remediation: "Use safe, cautious, or paranoid unless this deployment genuinely has no human in the loop and no destructive tools registered.",
		})
	}

	if cfg.Safety.TrustLevel == "selective_autonomy" {
		findings = append(findings, AuditFinding{
			CheckID:     "safety.trust_level_max",
			Severity:    SeverityWarn,
			Title:       "safety.trust_level starts at selective_autonomy",
			Detail:      "Starting a fresh session at the highest trust tier skips the shadow/dry_run/assisted/supervised ramp the Trust Level is meant to earn through observed behavior.",
			Remediation: "Start new deployments at shadow or dry_run and let the runtime promote trust based on outcomes.",
		})
	}

	if len(cfg.Safety.DenyPaths) == 0 {
		findings = append(findings, AuditFinding{
			CheckID:     "safety.deny_paths_empty",
			Severity:    SeverityWarn,
			Title:       "safety.deny_paths is empty",
			Detail:      "No filesystem paths are categorically denied, so file tools are limited only by the workspace root and per-policy rules.",
			Remediation: "Deny paths like .ssh, .aws, and any credential stores reachable from the workspace root even if they're not expected to be.",
		})
	}

	if len(cfg.Safety.DenyCommandPrefixes) == 0 {
		findings = append(findings, AuditFinding{
			CheckID:     "safety.deny_commands_empty",
			Severity:    SeverityWarn,
			Title:       "safety.deny_command_prefixes is empty",
			Detail:      "No command prefixes are categorically denied, so the exec tool's risk classification falls entirely on the action-type/policy-rule layer.",
			Remediation: "Deny destructive or credential-exfiltrating prefixes (rm -rf, curl|sh, sudo) outright regardless of trust level.",
		})
	}

	return findings
}
