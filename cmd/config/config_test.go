package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Assembler.MaxPendingAssemblies != 1000 {
		t.Fatalf("unexpected max_pending_assemblies: %d", AppConfig.Assembler.MaxPendingAssemblies)
	}
	if AppConfig.Finality.EpochLength != 32 {
		t.Fatalf("unexpected epoch_length: %d", AppConfig.Finality.EpochLength)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("testenv")
	if AppConfig.Assembler.MaxPendingAssemblies != 2000 {
		t.Fatalf("expected MaxPendingAssemblies 2000, got %d", AppConfig.Assembler.MaxPendingAssemblies)
	}
	if AppConfig.Registry.MaxSyncFailures != 7 {
		t.Fatalf("expected MaxSyncFailures 7, got %d", AppConfig.Registry.MaxSyncFailures)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sandbox := t.TempDir()
	if err := os.Mkdir(filepath.Join(sandbox, "config"), 0o700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("assembler:\n  max_pending_assemblies: 42\n")
	if err := os.WriteFile(filepath.Join(sandbox, "config", "default.yaml"), data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sandbox); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Assembler.MaxPendingAssemblies != 42 {
		t.Fatalf("expected MaxPendingAssemblies 42, got %d", AppConfig.Assembler.MaxPendingAssemblies)
	}
}
