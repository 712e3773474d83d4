// Package testutil holds helpers shared by package and integration tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FindProjectRoot walks up from the caller's source file to the directory
// holding go.mod.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	for dir := filepath.Dir(filename); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// WriteScript writes an executable /bin/sh script named name into dir and
// returns its path. Tests standing in for the Shopify CLI or ThemeKit use it;
// they are skipped where /bin/sh is unavailable.
func WriteScript(t testing.TB, dir, name, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need /bin/sh")
	}

	if !strings.HasPrefix(body, "#!") {
		body = "#!/bin/sh\n" + body
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}
