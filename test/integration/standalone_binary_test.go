package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStandaloneBinaryVersionHelpAndMissingKey(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	buildDir := t.TempDir()
	binaryPath := filepath.Join(buildDir, "admitcraft")

	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/admitcraft")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}

	outside := t.TempDir()
	copiedBinary := filepath.Join(outside, "admitcraft")

	// Use a direct file copy to avoid relying on platform-specific tools.
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("read built binary: %v", err)
	}
	if err := os.WriteFile(copiedBinary, data, 0o755); err != nil {
		t.Fatalf("write copied binary: %v", err)
	}

	version := exec.Command(copiedBinary, "version")
	version.Dir = outside
	if out, err := version.CombinedOutput(); err != nil {
		t.Fatalf("version failed: %v\n%s", err, string(out))
	}

	help := exec.Command(copiedBinary, "--help")
	help.Dir = outside
	if out, err := help.CombinedOutput(); err != nil {
		t.Fatalf("--help failed: %v\n%s", err, string(out))
	}

	// serve must refuse to start without a credential, before binding.
	serve := exec.Command(copiedBinary, "serve", "--port", "0")
	serve.Dir = outside
	serve.Env = withoutEnv(os.Environ(), "ANTHROPIC_API_KEY")
	serve.Env = append(serve.Env, "XDG_CONFIG_HOME="+outside)
	out, err := serve.CombinedOutput()
	if err == nil {
		t.Fatalf("serve without ANTHROPIC_API_KEY should fail\n%s", string(out))
	}
	if !strings.Contains(string(out), "ANTHROPIC_API_KEY") {
		t.Fatalf("expected missing key message, got:\n%s", string(out))
	}
}

func withoutEnv(env []string, name string) []string {
	kept := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, name+"=") {
			continue
		}
		kept = append(kept, kv)
	}
	return kept
}
