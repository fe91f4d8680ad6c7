package tooling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"spellcast/internal/domain"
)

// maxReadSize caps what readFile returns to the model.
const maxReadSize = 256 * 1024

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	ReadDir(path string) ([]DirEntry, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, content []byte) error
}

// DirEntry represents a directory entry returned by ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// JailPath resolves the given userPath relative to root and ensures the result
// stays inside root. Returns the clean absolute path or an error if the path
// escapes the sandbox.
func JailPath(root, userPath string) (string, error) {
	cleanRoot := filepath.Clean(root)

	var resolved string
	if filepath.IsAbs(userPath) {
		resolved = filepath.Clean(userPath)
	} else {
		resolved = filepath.Clean(filepath.Join(cleanRoot, userPath))
	}
	if resolved == cleanRoot || strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return resolved, nil
	}
	return "", fmt.Errorf("path escapes workspace: %s", userPath)
}

// FileTools exposes listDir, readFile and writeFile jailed to one workspace root.
type FileTools struct {
	root string
	fs   FileSystem
}

// NewFileTools returns file tools rooted at root. A nil fs uses the real file system.
func NewFileTools(root string, fs FileSystem) *FileTools {
	if fs == nil {
		fs = &OsFileSystem{}
	}
	return &FileTools{root: root, fs: fs}
}

// Descriptors returns the files book tools.
func (f *FileTools) Descriptors() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{
			Name:        "listDir",
			Description: "Lists a workspace directory; directories end with /",
			Args:        []domain.ArgSpec{{Name: "path", Description: "directory relative to the workspace, . when omitted"}},
			Func:        f.listDir,
		},
		{
			Name:        "readFile",
			Description: "Reads a text file from the workspace",
			Args:        []domain.ArgSpec{{Name: "path", Required: true, Description: "file relative to the workspace"}},
			Func:        f.readFile,
		},
		{
			Name:        "writeFile",
			Description: "Creates or overwrites a workspace file with the given text",
			Args: []domain.ArgSpec{
				{Name: "path", Required: true, Description: "file relative to the workspace"},
				{Name: "content", Required: true, Description: "full file content; quote it and use \\n for newlines"},
			},
			Func: f.writeFile,
		},
	}
}

func (f *FileTools) listDir(ctx context.Context, args []string) (string, error) {
	if err := checkArgs("listDir", args, 0, 1); err != nil {
		return "", err
	}
	resolved, err := JailPath(f.root, optional(args, 0, "."))
	if err != nil {
		return "", err
	}
	entries, err := f.fs.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}
	if len(entries) == 0 {
		return "(empty)", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		lines = append(lines, name)
	}
	return strings.Join(lines, "\n"), nil
}

func (f *FileTools) readFile(ctx context.Context, args []string) (string, error) {
	if err := checkArgs("readFile", args, 1, 1); err != nil {
		return "", err
	}
	resolved, err := JailPath(f.root, args[0])
	if err != nil {
		return "", err
	}
	data, err := f.fs.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if kind, _ := filetype.Match(data); kind != filetype.Unknown {
		return "", fmt.Errorf("%s is a binary %s file", args[0], kind.MIME.Value)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not UTF-8 text", args[0])
	}
	if len(data) > maxReadSize {
		return string(data[:maxReadSize]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func (f *FileTools) writeFile(ctx context.Context, args []string) (string, error) {
	if err := checkArgs("writeFile", args, 2, 2); err != nil {
		return "", err
	}
	resolved, err := JailPath(f.root, args[0])
	if err != nil {
		return "", err
	}
	if resolved == filepath.Clean(f.root) {
		return "", fmt.Errorf("cannot write to the workspace root")
	}
	if err := f.fs.WriteFile(resolved, []byte(args[1])); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(args[1]), args[0]), nil
}

// OsFileSystem implements FileSystem using the real os package.
type OsFileSystem struct{}

// ReadDir reads a real directory and returns its entries.
func (o *OsFileSystem) ReadDir(path string) ([]DirEntry, error) {
	osEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, len(osEntries))
	for _, e := range osEntries {
		entries = append(entries, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return entries, nil
}

func (o *OsFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes content to a real file, creating parent directories as needed.
func (o *OsFileSystem) WriteFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
