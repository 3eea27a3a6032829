// Command agentcore-doctor inspects the files an agentcore deployment leaves
// on disk between runs: the configuration file, its security posture, and
// the long-term memory store it points at. It never constructs an LLM
// provider, a Safety Guardian, or an Agent Loop, so it is safe to run
// against a production config with no API keys present and no session in
// flight.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/security"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "agentcore-doctor:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	path := "agentcore.yaml"
	if len(args) > 0 {
		path = args[0]
	}
	if env := os.Getenv("AGENTCORE_CONFIG"); env != "" && len(args) == 0 {
		path = env
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	fmt.Printf("OK    config loaded from %s\n", path)

	if err := runSecurityAudit(cfg, path); err != nil {
		return err
	}

	if !cfg.Memory.LongTerm.Enabled {
		fmt.Println("SKIP  long-term memory is disabled (memory.long_term.enabled: false)")
		return nil
	}

	mgr, err := memory.NewManager(&cfg.Memory.LongTerm)
	if err != nil {
		return fmt.Errorf("failed to open long-term memory store: %w", err)
	}
	defer mgr.Close()

	stats, err := mgr.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read long-term memory stats: %w", err)
	}

	fmt.Printf("OK    long-term memory backend=%s embedding_provider=%s embedding_model=%s dimension=%d\n",
		stats.Backend, stats.EmbeddingProvider, stats.EmbeddingModel, stats.Dimension)
	fmt.Printf("OK    long-term memory total_entries=%d\n", stats.TotalEntries)

	switch cfg.Memory.LongTerm.Backend {
	case "sqlite-vec":
		reportFile("sqlite-vec database", cfg.Memory.LongTerm.SQLiteVec.Path)
	case "lancedb":
		reportFile("lancedb directory", cfg.Memory.LongTerm.LanceDB.Path)
	}

	return nil
}

// runSecurityAudit checks the config file's own permissions, the state
// directory alongside it, and the Guardian/gateway posture the config
// describes (§4.4, §6). It never mutates anything; a CRIT finding is
// reported but doesn't stop the rest of the doctor run.
func runSecurityAudit(cfg *config.Config, configPath string) error {
	report, err := security.RunAudit(security.AuditOptions{
		ConfigPath:        configPath,
		StateDir:          filepath.Dir(configPath),
		Config:            cfg,
		IncludeFilesystem: true,
		IncludeGateway:    true,
		IncludeConfig:     true,
		CheckSymlinks:     true,
	})
	if err != nil {
		return fmt.Errorf("security audit failed: %w", err)
	}

	if len(report.Findings) == 0 {
		fmt.Println("OK    security audit found no issues")
		return nil
	}

	for _, f := range report.Findings {
		fmt.Printf("%-5s %-32s %s\n", auditLabel(f.Severity), f.CheckID, f.Title)
	}
	fmt.Printf("      security audit: %d critical, %d warn, %d info\n",
		report.Summary.Critical, report.Summary.Warn, report.Summary.Info)
	return nil
}

func auditLabel(sev security.AuditSeverity) string {
	switch sev {
	case security.SeverityCritical, security.SeverityHigh:
		return "CRIT"
	case security.SeverityWarn, security.SeverityMedium:
		return "WARN"
	default:
		return "INFO"
	}
}

func reportFile(label, path string) {
	if path == "" {
		fmt.Printf("WARN  %s path is empty\n", label)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("WARN  %s at %s: %s\n", label, path, err)
		return
	}
	fmt.Printf("OK    %s at %s (%d bytes, modified %s)\n", label, path, info.Size(), info.ModTime())
}
