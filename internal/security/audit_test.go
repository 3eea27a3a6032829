package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentcore/runtime/internal/config"
)

func TestNewAuditor(t *testing.T) {
	auditor := NewAuditor(AuditOptions{})
	if auditor == nil {
		t.Fatal("NewAuditor returned nil")
	}
}

func TestAuditFilesystemPermissions(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "agentcore.yaml")
	if err := os.WriteFile(configPath, []byte("llm: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := AuditOptions{
		ConfigPath:        configPath,
		StateDir:          tmpDir,
		IncludeFilesystem: true,
		CheckSymlinks:     true,
	}

	report, err := RunAudit(opts)
	if err != nil {
		t.Fatalf("RunAudit failed: %v", err)
	}

	found := false
	for _, f := range report.Findings {
		if f.CheckID == "fs.config_world_readable" {
			found = true
			if f.Severity != SeverityCritical {
				t.Errorf("expected critical severity, got %s", f.Severity)
			}
		}
	}
	if !found {
		t.Error("expected to find world-readable config finding")
	}
}

func TestAuditWorldWritableDir(t *testing.T) {
	tmpDir := t.TempDir()

	credsDir := filepath.Join(tmpDir, "credentials")
	if err := os.Mkdir(credsDir, 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(credsDir, 0777); err != nil {
		t.Fatal(err)
	}

	report, err := RunAudit(AuditOptions{
		StateDir:          tmpDir,
		IncludeFilesystem: true,
	})
	if err != nil {
		t.Fatalf("RunAudit failed: %v", err)
	}

	found := false
	for _, f := range report.Findings {
		if f.CheckID == "fs.state_dir_world_writable" && f.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Error("expected to find world-writable state dir finding")
	}
}

func TestAuditReport_Summary(t *testing.T) {
	report := &AuditReport{
		Findings: []AuditFinding{
			{CheckID: "a", Severity: SeverityCritical},
			{CheckID: "b", Severity: SeverityCritical},
			{CheckID: "c", Severity: SeverityWarn},
			{CheckID: "d", Severity: SeverityInfo},
		},
	}
	report.Summary = computeSummary(report.Findings)

	if report.Summary.Critical != 2 {
		t.Errorf("expected 2 critical, got %d", report.Summary.Critical)
	}
	if report.Summary.Warn != 1 {
		t.Errorf("expected 1 warn, got %d", report.Summary.Warn)
	}
	if report.Summary.Info != 1 {
		t.Errorf("expected 1 info, got %d", report.Summary.Info)
	}
	if !report.HasCritical() {
		t.Error("expected HasCritical to be true")
	}
}

func TestAuditGatewayConfig_MissingJWTSecret(t *testing.T) {
	cfg := &config.Config{}
	findings := AuditGatewayConfig(cfg)

	found := false
	for _, f := range findings {
		if f.CheckID == "gateway.jwt_secret_missing" {
			found = true
		}
	}
	if !found {
		t.Error("expected a finding for a missing jwt_secret")
	}
}

func TestAuditGatewayConfig_StrongSecretNoFindings(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Server.TokenExpiry = 3600_000_000_000 // 1h in ns

	findings := AuditGatewayConfig(cfg)
	for _, f := range findings {
		if f.CheckID == "gateway.jwt_secret_missing" || f.CheckID == "gateway.jwt_secret_weak" {
			t.Errorf("unexpected finding for a strong secret: %s", f.CheckID)
		}
	}
}

func TestAuditConfigContent_YoloMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Safety.ApprovalMode = "yolo"

	findings := auditConfigContent(cfg)
	found := false
	for _, f := range findings {
		if f.CheckID == "safety.approval_mode_yolo" && f.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Error("expected a critical finding for approval_mode: yolo")
	}
}

func TestAuditConfigContent_EmptyDenyLists(t *testing.T) {
	cfg := &config.Config{}
	cfg.Safety.ApprovalMode = "cautious"

	findings := auditConfigContent(cfg)
	foundPaths, foundCommands := false, false
	for _, f := range findings {
		switch f.CheckID {
		case "safety.deny_paths_empty":
			foundPaths = true
		case "safety.deny_commands_empty":
			foundCommands = true
		}
	}
	if !foundPaths || !foundCommands {
		t.Error("expected findings for both empty deny_paths and deny_command_prefixes")
	}
}
