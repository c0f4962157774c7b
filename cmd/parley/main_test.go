package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := map[string]bool{"serve": false, "version": false}
	for _, cmd := range root.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestVersionCmdOutput(t *testing.T) {
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "parley dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	fromFlag := filepath.Join(dir, "flag.yaml")
	fromEnv := filepath.Join(dir, "env.yaml")
	if err := os.WriteFile(fromFlag, []byte("server:\n  port: 9001\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fromEnv, []byte("server:\n  port: 9002\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PARLEY_CONFIG", fromEnv)

	cfg, err := loadConfig(fromFlag)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, the flag should beat the environment", cfg.Server.Port)
	}

	cfg, err = loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9002 {
		t.Errorf("port = %d, the environment should beat the default", cfg.Server.Port)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", "")
	// Run from an empty directory so no parley.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8800 {
		t.Errorf("port = %d, want the default", cfg.Server.Port)
	}
}
