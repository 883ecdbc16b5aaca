package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetState clears package globals between tests.
func resetState() {
	CloseAll()
	logsDir = ""
	homeDir = ""
	config = loggingConfig{}
	logLevel = LevelInfo
}

func writeTestConfig(t *testing.T, home, content string) {
	t.Helper()
	configDir := filepath.Join(home, ".flowpilot")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// TestAllCategoriesLog verifies every category creates a log file when
// debug_mode is true.
func TestAllCategoriesLog(t *testing.T) {
	home := t.TempDir()
	writeTestConfig(t, home, `
logging:
  debug_mode: true
  level: debug
`)

	resetState()
	if err := Initialize(home); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer resetState()

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategoryDaemon,
		CategoryTrigger,
		CategoryWorkflow,
		CategoryConfidence,
		CategoryStore,
		CategoryActions,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}
		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(home, ".flowpilot", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), "_"+string(cat)+".log") {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("No log file created for category %s", cat)
		}
	}
}

// TestProductionModeSilent verifies nothing is written without debug_mode.
func TestProductionModeSilent(t *testing.T) {
	home := t.TempDir()
	writeTestConfig(t, home, `
logging:
  debug_mode: false
`)

	resetState()
	if err := Initialize(home); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer resetState()

	if IsDebugMode() {
		t.Error("Expected debug mode to be disabled")
	}
	Daemon("this should go nowhere")
	Get(CategoryStore).Error("neither should this")

	if _, err := os.Stat(filepath.Join(home, ".flowpilot", "logs")); !os.IsNotExist(err) {
		t.Error("Logs directory should not exist in production mode")
	}
}

// TestMissingConfigDefaultsSilent verifies a missing config file means no
// logging rather than an error.
func TestMissingConfigDefaultsSilent(t *testing.T) {
	home := t.TempDir()

	resetState()
	if err := Initialize(home); err != nil {
		t.Fatalf("Initialize should tolerate a missing config: %v", err)
	}
	defer resetState()

	if IsDebugMode() {
		t.Error("Expected debug mode off without a config file")
	}
}

// TestCategoryFiltering verifies per-category disable.
func TestCategoryFiltering(t *testing.T) {
	home := t.TempDir()
	writeTestConfig(t, home, `
logging:
  debug_mode: true
  level: debug
  categories:
    daemon: true
    store: false
`)

	resetState()
	if err := Initialize(home); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer resetState()

	if !IsCategoryEnabled(CategoryDaemon) {
		t.Error("daemon category should be enabled")
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("store category should be disabled")
	}
	if !IsCategoryEnabled(CategoryTrigger) {
		t.Error("unlisted categories default to enabled")
	}
}
