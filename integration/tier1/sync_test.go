//go:build integration

package tier1

import (
	"context"
	"sort"
	"strings"
	"testing"
)

func TestTier1Deploy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t, ctx)

	t.Run("A_InitialDeployWithoutRemoteManifest", func(t *testing.T) {
		h.Reset()
		testInitialDeploy(t, h, ctx)
	})

	t.Run("B_UpdateUploadsAndRemoves", func(t *testing.T) {
		h.Reset()
		testUpdateDeploy(t, h, ctx)
	})

	t.Run("C_NoOpDeploy", func(t *testing.T) {
		h.Reset()
		testNoOpDeploy(t, h, ctx)
	})

	t.Run("D_DryRunMode", func(t *testing.T) {
		h.Reset()
		testDryRunMode(t, h, ctx)
	})

	t.Run("E_RemovalFailurePolicies", func(t *testing.T) {
		h.Reset()
		testRemovalFailurePolicies(t, h, ctx)
	})

	t.Run("F_MalformedLocalManifest", func(t *testing.T) {
		h.Reset()
		testMalformedLocalManifest(t, h, ctx)
	})

	t.Run("G_UploadFailure", func(t *testing.T) {
		h.Reset()
		testUploadFailure(t, h, ctx)
	})
}

func pushEntries(entries []CLILogEntry) []CLILogEntry {
	var out []CLILogEntry
	for _, e := range entries {
		if e.HasArgs("theme", "push") {
			out = append(out, e)
		}
	}
	return out
}

func onlyArgs(e CLILogEntry) []string {
	var out []string
	for _, a := range e.Args {
		if v, ok := strings.CutPrefix(a, "--only="); ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// testInitialDeploy uploads everything when the theme has no manifest yet
func testInitialDeploy(t *testing.T, h *Harness, ctx context.Context) {
	cfg := h.WriteConfig("warn")
	h.SetRemoteManifest("")
	h.SetLocalManifest(`{"assets/app.css":"1","templates/index.json":"1"}`)

	stdout, _, code := h.Run(ctx, "deploy", "--config", cfg)
	if code != 0 {
		t.Fatalf("deploy exited %d", code)
	}

	entries := h.ReadCLILog()
	if len(entries) == 0 || !entries[0].HasArgs("theme", "pull") {
		t.Fatalf("expected the first invocation to pull the manifest, got %v", entries)
	}
	if !entries[0].ContainsArg("--only=manifest.json") {
		t.Errorf("pull should be limited to the manifest: %s", entries[0])
	}

	pushes := pushEntries(entries)
	if len(pushes) != 1 {
		t.Fatalf("expected one push, got %v", pushes)
	}
	want := []string{"assets/app.css", "manifest.json", "templates/index.json"}
	if got := onlyArgs(pushes[0]); !equalStrings(got, want) {
		t.Errorf("pushed %v, want %v", got, want)
	}
	for _, flag := range []string{"--allow-live", "--nodelete", "--theme=1234"} {
		if !pushes[0].ContainsArg(flag) {
			t.Errorf("push missing %s: %s", flag, pushes[0])
		}
	}

	if !strings.Contains(stdout, "::warning::") {
		t.Error("expected a warning about the missing previous manifest")
	}
	if deleted := h.Shopify.Deleted(); len(deleted) != 0 {
		t.Errorf("expected no deletions, got %v", deleted)
	}
}

// testUpdateDeploy pushes changes, skips changed JSON templates and removes
// deleted files through the Admin API
func testUpdateDeploy(t *testing.T, h *Harness, ctx context.Context) {
	cfg := h.WriteConfig("warn")
	h.SetRemoteManifest(`{"assets/app.css":"1","assets/old.js":"1","templates/index.json":"1","snippets/gone.liquid":"1"}`)
	h.SetLocalManifest(`{"assets/app.css":"2","templates/index.json":"2","sections/new.liquid":"1"}`)

	stdout, _, code := h.Run(ctx, "deploy", "--config", cfg)
	if code != 0 {
		t.Fatalf("deploy exited %d", code)
	}

	pushes := pushEntries(h.ReadCLILog())
	if len(pushes) != 1 {
		t.Fatalf("expected one push, got %v", pushes)
	}
	want := []string{"assets/app.css", "manifest.json", "sections/new.liquid"}
	if got := onlyArgs(pushes[0]); !equalStrings(got, want) {
		t.Errorf("pushed %v, want %v", got, want)
	}

	deleted := h.Shopify.Deleted()
	sort.Strings(deleted)
	if !equalStrings(deleted, []string{"assets/old.js", "snippets/gone.liquid"}) {
		t.Errorf("deleted %v", deleted)
	}

	if !strings.Contains(stdout, "Deleting [") {
		t.Error("expected removal progress lines")
	}
}

// testNoOpDeploy ends with a notice when the manifests match
func testNoOpDeploy(t *testing.T, h *Harness, ctx context.Context) {
	cfg := h.WriteConfig("warn")
	manifest := `{"assets/app.css":"1","layout/theme.liquid":{"hash":"abc","size":12}}`
	h.SetRemoteManifest(manifest)
	h.SetLocalManifest(manifest)

	stdout, _, code := h.Run(ctx, "deploy", "--config", cfg)
	if code != 0 {
		t.Fatalf("deploy exited %d", code)
	}

	if !strings.Contains(stdout, "::notice::No file changes detected for this store") {
		t.Error("expected the no-changes notice")
	}
	if pushes := pushEntries(h.ReadCLILog()); len(pushes) != 0 {
		t.Errorf("expected no push, got %v", pushes)
	}
}

// testDryRunMode plans without pushing or deleting
func testDryRunMode(t *testing.T, h *Harness, ctx context.Context) {
	cfg := h.WriteConfig("warn")
	h.SetRemoteManifest(`{"assets/old.js":"1"}`)
	h.SetLocalManifest(`{"assets/new.js":"1"}`)

	stdout, _, code := h.Run(ctx, "deploy", "--dry-run", "--config", cfg)
	if code != 0 {
		t.Fatalf("deploy exited %d", code)
	}

	if !strings.Contains(stdout, "[dry-run]") {
		t.Error("expected dry-run plan output")
	}
	if pushes := pushEntries(h.ReadCLILog()); len(pushes) != 0 {
		t.Errorf("dry-run pushed: %v", pushes)
	}
	if deleted := h.Shopify.Deleted(); len(deleted) != 0 {
		t.Errorf("dry-run deleted: %v", deleted)
	}
}

// testRemovalFailurePolicies settles every removal and applies the policy
func testRemovalFailurePolicies(t *testing.T, h *Harness, ctx context.Context) {
	h.SetRemoteManifest(`{"assets/a.js":"1","assets/b.js":"1","assets/c.js":"1"}`)
	h.SetLocalManifest(`{}`)
	h.Shopify.FailKey("assets/b.js")

	stdout, _, code := h.Run(ctx, "deploy", "--config", h.WriteConfig("warn"))
	if code != 0 {
		t.Fatalf("warn policy should succeed, exited %d", code)
	}
	if !strings.Contains(stdout, "::warning::") || !strings.Contains(stdout, "assets/b.js") {
		t.Error("expected a warning naming the failed path")
	}
	deleted := h.Shopify.Deleted()
	sort.Strings(deleted)
	if !equalStrings(deleted, []string{"assets/a.js", "assets/c.js"}) {
		t.Errorf("deleted %v", deleted)
	}

	h.Shopify.Reset()
	h.Shopify.FailKey("assets/b.js")

	_, _, code = h.Run(ctx, "deploy", "--config", h.WriteConfig("fail"))
	if code == 0 {
		t.Fatal("fail policy should exit non-zero")
	}
	if got := len(h.Shopify.Deleted()); got != 2 {
		t.Errorf("expected the other removals to still run, got %d", got)
	}
}

// testMalformedLocalManifest aborts before touching the store
func testMalformedLocalManifest(t *testing.T, h *Harness, ctx context.Context) {
	cfg := h.WriteConfig("warn")
	h.SetRemoteManifest(`{"assets/a.js":"1"}`)
	h.SetLocalManifest(`{"assets/a.js":`)

	stdout, _, code := h.Run(ctx, "deploy", "--config", cfg)
	if code == 0 {
		t.Fatal("expected a non-zero exit for a malformed manifest")
	}
	if !strings.Contains(stdout, "::error::") {
		t.Error("expected an error annotation")
	}
	if pushes := pushEntries(h.ReadCLILog()); len(pushes) != 0 {
		t.Errorf("expected no push, got %v", pushes)
	}
	if deleted := h.Shopify.Deleted(); len(deleted) != 0 {
		t.Errorf("expected no deletions, got %v", deleted)
	}
}

// testUploadFailure stops before removals when the push fails
func testUploadFailure(t *testing.T, h *Harness, ctx context.Context) {
	cfg := h.WriteConfig("warn")
	h.SetRemoteManifest(`{"assets/old.js":"1"}`)
	h.SetLocalManifest(`{"assets/new.js":"1"}`)
	h.SetEnv("FAKE_PUSH_EXIT=3")

	_, _, code := h.Run(ctx, "deploy", "--config", cfg)
	if code == 0 {
		t.Fatal("expected a non-zero exit when the push fails")
	}
	if deleted := h.Shopify.Deleted(); len(deleted) != 0 {
		t.Errorf("expected no deletions after a failed upload, got %v", deleted)
	}
}
