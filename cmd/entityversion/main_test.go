package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	itest "github.com/nainya/entityversion/internal/testutil"
	"github.com/nainya/entityversion/pkg/storage"
)

// cli runs commands against one sqlite database and the test catalog.
type cli struct {
	t      *testing.T
	dir    string
	common []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()

	dir := t.TempDir()
	defs := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(defs, []byte(itest.CatalogYAML), 0o644); err != nil {
		t.Fatalf("Failed to write definitions: %v", err)
	}
	return &cli{
		t:   t,
		dir: dir,
		common: []string{
			"-driver", "sqlite",
			"-dsn", filepath.Join(dir, "versions.db"),
			"-definitions", defs,
			"-log-level", "error",
		},
	}
}

func (c *cli) file(name, content string) string {
	c.t.Helper()

	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		c.t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func (c *cli) run(command string, args ...string) (string, string, int) {
	c.t.Helper()

	var stdout, stderr bytes.Buffer
	argv := append([]string{"entityversion", command}, c.common...)
	code := run(append(argv, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (c *cli) mustRun(command string, args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.run(command, args...)
	if code != 0 {
		c.t.Fatalf("%s %v exited %d: %s", command, args, code, stderr)
	}
	return stdout
}

func TestRunNoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"entityversion"}, &stdout, &stderr); code != 1 {
		t.Errorf("Expected exit code 1 for no args, got %d", code)
	}
}

func TestRunHelp(t *testing.T) {
	for _, arg := range []string{"help", "-h", "--help"} {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"entityversion", arg}, &stdout, &stderr); code != 0 {
			t.Errorf("Expected exit code 0 for %s, got %d", arg, code)
		}
		if !strings.Contains(stdout.String(), "serve-metrics") {
			t.Errorf("Expected usage on stdout for %s", arg)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"entityversion", "rebase"}, &stdout, &stderr); code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: rebase") {
		t.Errorf("Unexpected stderr: %s", stderr.String())
	}
}

func TestRequiredFlags(t *testing.T) {
	c := newCLI(t)

	_, stderr, code := c.run("fork", "-definition", "product")
	if code != 1 || !strings.Contains(stderr, "-id required") {
		t.Errorf("Expected missing -id error, got %d: %s", code, stderr)
	}
}

func TestInvalidDriver(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"entityversion", "history", "-driver", "mongo"}, &stdout, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "unknown storage driver") {
		t.Errorf("Expected config error, got %d: %s", code, stderr.String())
	}
}

func TestForkEditMergeRoundTrip(t *testing.T) {
	c := newCLI(t)

	product := c.file("product.json", `{
		"id": "p1", "name": "Shirt", "stock": 10,
		"prices": [{"id": "pr1", "quantityStart": 1, "gross": 10}]
	}`)
	out := c.mustRun("write", "-definition", "product", "-file", product, "-action", "insert")
	if !strings.Contains(out, "insert product: 1") || !strings.Contains(out, "insert product_price: 1") {
		t.Errorf("Unexpected write output: %s", out)
	}

	out = c.mustRun("fork", "-definition", "product", "-id", "p1", "-version-id", "v1", "-name", "restock")
	if strings.TrimSpace(out) != "v1" {
		t.Fatalf("Expected version id v1, got %q", out)
	}

	update := c.file("update.json", `[{"id": "p1", "stock": 3}]`)
	c.mustRun("write", "-definition", "product", "-file", update, "-action", "update", "-version", "v1", "-user", "alice")

	out = c.mustRun("diff", "-definition", "product", "-id", "p1", "-version", "v1")
	if !strings.Contains(out, `-  "stock": 10,`) || !strings.Contains(out, `+  "stock": 3,`) {
		t.Errorf("Expected stock change in diff, got:\n%s", out)
	}

	out = c.mustRun("history", "-version", "v1")
	if !strings.Contains(out, "clone") || !strings.Contains(out, "update") {
		t.Errorf("Expected clone and update entries, got:\n%s", out)
	}

	out = c.mustRun("merge", "-version", "v1")
	if !strings.Contains(out, "Merged v1 into live") {
		t.Errorf("Unexpected merge output: %s", out)
	}

	out = c.mustRun("history")
	if !strings.Contains(out, "(merge)") || !strings.Contains(out, "merge commit") {
		t.Errorf("Expected merge commit in live history, got:\n%s", out)
	}
	if !strings.Contains(out, storage.LiveVersion) {
		t.Errorf("Expected live entity ids in history, got:\n%s", out)
	}

	out = c.mustRun("history", "-version", "v1")
	if !strings.Contains(out, "No commits in v1") {
		t.Errorf("Expected empty version history, got:\n%s", out)
	}

	out = c.mustRun("delete", "-definition", "product", "-id", "p1")
	if !strings.Contains(out, "delete product: 1") || !strings.Contains(out, "delete product_price: 1") {
		t.Errorf("Unexpected delete output: %s", out)
	}
	out = c.mustRun("delete", "-definition", "product", "-id", "p1")
	if !strings.Contains(out, "not found") {
		t.Errorf("Expected not found on second delete, got: %s", out)
	}
}

func TestForkMissingEntity(t *testing.T) {
	c := newCLI(t)

	_, stderr, code := c.run("fork", "-definition", "product", "-id", "ghost")
	if code != 1 || !strings.Contains(stderr, "entity not found") {
		t.Errorf("Expected not found error, got %d: %s", code, stderr)
	}
}

func TestDefinitionsCommand(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("definitions")
	for _, want := range []string{
		"product (versionable)\n",
		"  cascade: prices, translations\n",
		"order (versionable)\n",
		"  cascade: address\n",
		"tax\n  fields:  id, name, rate\n",
		"version_commit\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in definitions output:\n%s", want, out)
		}
	}
	if strings.Index(out, "category") > strings.Index(out, "product") {
		t.Error("Expected definitions in lexical order")
	}
}

func TestDefaultDriverPersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.WriteFile("catalog.yaml", []byte(itest.CatalogYAML), 0o644); err != nil {
		t.Fatalf("Failed to write definitions: %v", err)
	}
	if err := os.WriteFile("tax.json", []byte(`{"id": "t1", "name": "Standard", "rate": 19}`), 0o644); err != nil {
		t.Fatalf("Failed to write rows: %v", err)
	}

	common := []string{"-definitions", "catalog.yaml", "-log-level", "error"}
	runCmd := func(args ...string) string {
		t.Helper()
		var stdout, stderr bytes.Buffer
		argv := append([]string{"entityversion", args[0]}, common...)
		if code := run(append(argv, args[1:]...), &stdout, &stderr); code != 0 {
			t.Fatalf("%v exited %d: %s", args, code, stderr.String())
		}
		return stdout.String()
	}

	runCmd("write", "-file", "tax.json", "-definition", "tax")
	if out := runCmd("history"); !strings.Contains(out, "tax") {
		t.Errorf("Expected the earlier write in a later run, got:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "entityversion.db")); err != nil {
		t.Errorf("Expected default sqlite file: %v", err)
	}
}

func TestMemoryDriverWarns(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"entityversion", "history", "-driver", "memory"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "memory driver keeps nothing") {
		t.Errorf("Expected memory driver warning, got: %s", stderr.String())
	}
}
