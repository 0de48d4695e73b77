package gitops

import (
	"reflect"
	"testing"
)

const sampleDiff = `diff --git a/app.py b/app.py
index 0000001..0000002 100644
--- a/app.py
+++ b/app.py
@@ -1,3 +1,3 @@
 def add(a, b):
-    return a - b
+    return a + b

diff --git a/utils.py b/utils.py
new file mode 100644
index 0000000..0000003
--- /dev/null
+++ b/utils.py
@@ -0,0 +1,3 @@
+def helper():
+    return 1
+
diff --git a/CLAUDE.md b/CLAUDE.md
new file mode 100644
index 0000000..0000004
--- /dev/null
+++ b/CLAUDE.md
@@ -0,0 +1,2 @@
+# Context
+notes
diff --git a/old.txt b/old.txt
deleted file mode 100644
index 0000005..0000000
--- a/old.txt
+++ /dev/null
@@ -1,2 +0,0 @@
-stale
-content
`

func TestParseDiffStats(t *testing.T) {
	stats, err := parseDiffStats([]byte(sampleDiff))
	if err != nil {
		t.Fatalf("parseDiffStats: %v", err)
	}

	// app.py: 1 changed line; utils.py: 3 added; old.txt: 2 deleted.
	// CLAUDE.md is a context file and does not count.
	if stats.LinesChanged != 6 {
		t.Errorf("LinesChanged = %d, want 6", stats.LinesChanged)
	}
	if stats.FilesChanged != 3 {
		t.Errorf("FilesChanged = %d, want 3", stats.FilesChanged)
	}
	want := []string{"app.py", "old.txt", "utils.py"}
	if !reflect.DeepEqual(stats.Files, want) {
		t.Errorf("Files = %v, want %v", stats.Files, want)
	}
}

func TestParseDiffStatsEmpty(t *testing.T) {
	stats, err := parseDiffStats(nil)
	if err != nil {
		t.Fatalf("parseDiffStats: %v", err)
	}
	if stats.LinesChanged != 0 || stats.FilesChanged != 0 || stats.Files != nil {
		t.Errorf("empty diff produced stats: %+v", stats)
	}
}

func TestIsContextFile(t *testing.T) {
	yes := []string{
		"CLAUDE.md",
		"AGENTS.md",
		"pkg/parser/AGENTS.md",
		".github/workflows/ci.yml",
		"sub/.claude/settings.json",
		".cursorrules",
		".cursor/rules.md",
	}
	for _, p := range yes {
		if !IsContextFile(p) {
			t.Errorf("IsContextFile(%q) = false, want true", p)
		}
	}

	no := []string{
		"README.md",
		"src/main.go",
		"claude.go",
	}
	for _, p := range no {
		if IsContextFile(p) {
			t.Errorf("IsContextFile(%q) = true, want false", p)
		}
	}
}
