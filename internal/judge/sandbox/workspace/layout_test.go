package workspace

import (
	"os"
	"path/filepath"
	"testing"

	appErr "judgecore/pkg/errors"
)

func TestNewProjectDirIsUnique(t *testing.T) {
	root := t.TempDir()
	a, err := NewProjectDir(root, "main.cpp")
	if err != nil {
		t.Fatalf("new project dir: %v", err)
	}
	b, err := NewProjectDir(root, "main.cpp")
	if err != nil {
		t.Fatalf("new project dir: %v", err)
	}
	if a.RootDir == b.RootDir {
		t.Fatal("project dirs must be unique")
	}
	if filepath.Dir(a.EntryPath) != a.RootDir || filepath.Base(a.EntryPath) != "main.cpp" {
		t.Fatalf("unexpected entry path %s", a.EntryPath)
	}
}

func TestWriteEntryRefusesOverwrite(t *testing.T) {
	layout, err := NewProjectDir(t.TempDir(), "main.py")
	if err != nil {
		t.Fatalf("new project dir: %v", err)
	}
	if err := layout.WriteEntry([]byte("print(1)\n")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := layout.WriteEntry([]byte("print(2)\n")); !appErr.Is(err, appErr.SandboxOSError) {
		t.Fatalf("expected os error on overwrite, got %v", err)
	}
	data, _ := os.ReadFile(layout.EntryPath)
	if string(data) != "print(1)\n" {
		t.Fatalf("entry was modified: %q", data)
	}
	if err := layout.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(layout.RootDir); !os.IsNotExist(err) {
		t.Fatalf("project dir should be gone: %v", err)
	}
}

func TestCapturePathsAreDeterministic(t *testing.T) {
	out1, err1 := CapturePaths("/p", "/data/in1.txt")
	out2, err2 := CapturePaths("/p", "/data/in1.txt")
	if out1 != out2 || err1 != err2 {
		t.Fatal("capture paths must be stable for one input")
	}
	if out1 == err1 {
		t.Fatal("output and error files must differ")
	}
	other, _ := CapturePaths("/p", "/data/in2.txt")
	if other == out1 {
		t.Fatal("different inputs must get different files")
	}
	if filepath.Dir(out1) != "/p" {
		t.Fatalf("capture files belong in the project dir, got %s", out1)
	}
}
