// Package workspace defines the project directory layout and capture paths.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	appErr "judgecore/pkg/errors"
)

// Layout describes one project directory: the entry source, the build
// artifacts next to it, and any capture files of file-mode runs.
type Layout struct {
	RootDir   string
	EntryPath string
}

// NewProjectDir creates a fresh, uniquely named project directory under root
// and returns its layout.
func NewProjectDir(root, entryFile string) (Layout, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "judgecore-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Layout{}, appErr.OSFailure(err, "create project dir failed")
	}
	return Layout{RootDir: dir, EntryPath: filepath.Join(dir, entryFile)}, nil
}

// WriteEntry writes the source file. It refuses to overwrite an existing one.
func (l Layout) WriteEntry(source []byte) error {
	file, err := os.OpenFile(l.EntryPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return appErr.OSFailure(err, "create entry file failed")
	}
	if _, err := file.Write(source); err != nil {
		_ = file.Close()
		return appErr.OSFailure(err, "write entry file failed")
	}
	if err := file.Close(); err != nil {
		return appErr.OSFailure(err, "close entry file failed")
	}
	return nil
}

// Remove deletes the project directory.
func (l Layout) Remove() error {
	if l.RootDir == "" {
		return nil
	}
	return os.RemoveAll(l.RootDir)
}

// CapturePaths names the output and error files of a file-mode run. Names are
// derived from the input path, so repeated runs on the same input reuse them.
func CapturePaths(projectDir, inputPath string) (output, errOut string) {
	output = filepath.Join(projectDir, captureName(inputPath, "output"))
	errOut = filepath.Join(projectDir, captureName(inputPath, "error"))
	return output, errOut
}

func captureName(inputPath, kind string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(inputPath+"\x00"+kind))
}
