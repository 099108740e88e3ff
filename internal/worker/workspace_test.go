package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}

	run("init", "-q")
	run("config", "user.email", "worker@example.com")
	run("config", "user.name", "worker")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-q", "-m", "seed")

	return dir
}

func TestPrepareFreshWorkspace_PurgesOnApplyPhase(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	ws, err := PrepareWorkspace(ctx, root, "backend", "task-1", "apply", ModeFresh, "")
	if err != nil {
		t.Fatalf("PrepareWorkspace: %v", err)
	}
	stale := filepath.Join(ws.Path, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws2, err := PrepareWorkspace(ctx, root, "backend", "task-1", "apply", ModeFresh, "")
	if err != nil {
		t.Fatalf("PrepareWorkspace (second apply): %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws2.Path, "stale.txt")); !os.IsNotExist(err) {
		t.Errorf("expected stale.txt to be purged on phase=apply, stat err = %v", err)
	}
}

func TestPrepareFreshWorkspace_ReusesOnTestPhase(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	ws, err := PrepareWorkspace(ctx, root, "backend", "task-2", "apply", ModeFresh, "")
	if err != nil {
		t.Fatalf("PrepareWorkspace: %v", err)
	}
	marker := filepath.Join(ws.Path, "marker.txt")
	if err := os.WriteFile(marker, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws2, err := PrepareWorkspace(ctx, root, "backend", "task-2", "test", ModeFresh, "")
	if err != nil {
		t.Fatalf("PrepareWorkspace (phase=test): %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws2.Path, "marker.txt")); err != nil {
		t.Errorf("expected marker.txt to survive phase=test reuse, got err = %v", err)
	}
}

func TestPrepareRepoWorkspace_ReusesExistingWorktree(t *testing.T) {
	repo := initTestRepo(t)
	root := t.TempDir()
	ctx := context.Background()

	explicitPath := filepath.Join(root, "wt-1")
	cmd := exec.Command("git", "worktree", "add", "-b", "agent/backend/task_3", explicitPath, "HEAD")
	cmd.Dir = repo
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("seed worktree add: %v (%s)", err, out)
	}

	ws, err := PrepareWorkspace(ctx, root, "backend", "task-3", "apply", ModeRepo, explicitPath)
	if err != nil {
		t.Fatalf("PrepareWorkspace: %v", err)
	}
	if ws.BaselineHEAD == "" {
		t.Error("expected a non-empty baseline HEAD")
	}
	if err := CheckIsolation(&Workspace{Path: ws.Path, Mode: ModeRepo}); err == nil {
		t.Error("expected CheckIsolation to fail when process cwd differs from workspace")
	}
}

func TestDetectFileChanges_FreshModeTreatsAllAsCreated(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	ws, err := PrepareWorkspace(ctx, root, "backend", "task-4", "apply", ModeFresh, "")
	if err != nil {
		t.Fatalf("PrepareWorkspace: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "output.go"), []byte("package x"), 0o644); err != nil {
		t.Fatal(err)
	}

	changes, err := DetectFileChanges(ctx, ws)
	if err != nil {
		t.Fatalf("DetectFileChanges: %v", err)
	}
	if len(changes.Created) != 1 || changes.Created[0] != "output.go" {
		t.Errorf("Created = %v, want [output.go]", changes.Created)
	}
	if len(changes.Modified) != 0 {
		t.Errorf("Modified = %v, want empty", changes.Modified)
	}
}

func TestDetectFileChanges_RepoModeDiffsAgainstBaseline(t *testing.T) {
	repo := initTestRepo(t)
	ctx := context.Background()

	ws := &Workspace{Path: repo, Mode: ModeRepo}
	head, err := currentHEAD(ctx, repo)
	if err != nil {
		t.Fatalf("currentHEAD: %v", err)
	}
	ws.BaselineHEAD = head

	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "new.go"), []byte("package x"), 0o644); err != nil {
		t.Fatal(err)
	}
	commit := exec.Command("git", "commit", "-q", "-am", "modify readme")
	commit.Dir = repo
	if out, err := commit.CombinedOutput(); err != nil {
		t.Fatalf("commit: %v (%s)", err, out)
	}

	changes, err := DetectFileChanges(ctx, ws)
	if err != nil {
		t.Fatalf("DetectFileChanges: %v", err)
	}
	if len(changes.Modified) != 1 || changes.Modified[0] != "README.md" {
		t.Errorf("Modified = %v, want [README.md]", changes.Modified)
	}
	if len(changes.Created) != 1 || changes.Created[0] != "new.go" {
		t.Errorf("Created = %v, want [new.go] (untracked)", changes.Created)
	}
}

func TestSafeTaskID_SanitizesUnsafeChars(t *testing.T) {
	got := safeTaskID("task/with spaces:and#stuff")
	for _, r := range got {
		if r == '/' || r == ' ' || r == ':' || r == '#' {
			t.Errorf("safeTaskID left unsafe char in %q", got)
		}
	}
}
