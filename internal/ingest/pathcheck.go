package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveSource returns the path to open for a source file. When
// allowedBaseDir is set the file must live under it after symlinks are
// resolved.
func ResolveSource(inputPath, allowedBaseDir string) (string, error) {
	resolved := inputPath
	if allowedBaseDir != "" {
		var err error
		if resolved, err = ValidatePath(inputPath, allowedBaseDir); err != nil {
			return "", err
		}
	}
	if err := ValidatePathExists(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// ValidatePath checks that inputPath is within allowedBaseDir
func ValidatePath(inputPath, allowedBaseDir string) (string, error) {
	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return "", fmt.Errorf("invalid input path: %w", err)
	}
	absBase, err := filepath.Abs(allowedBaseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	resolvedInput, err := filepath.EvalSymlinks(absInput)
	if err != nil {
		return "", fmt.Errorf("cannot resolve input path: %w", err)
	}
	resolvedBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("cannot resolve base directory: %w", err)
	}

	rel, err := filepath.Rel(resolvedBase, resolvedInput)
	if err != nil {
		return "", fmt.Errorf("cannot compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source %s is outside %s", inputPath, allowedBaseDir)
	}

	return resolvedInput, nil
}

// ValidatePathExists checks that the path exists and is a regular file
func ValidatePathExists(resolvedPath string) error {
	info, err := os.Stat(resolvedPath)
	if err != nil {
		return fmt.Errorf("file does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", resolvedPath)
	}
	return nil
}

// IsSpreadsheet reports whether the path names an Excel workbook
func IsSpreadsheet(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx":
		return true
	}
	return false
}
