package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxCandidates bounds the search for a free output name.
const maxCandidates = 10000

// outputPathFor returns <stem>_complete<ext> in dir (the input's directory
// when empty). Taken names get a (1), (2), ... suffix.
func outputPathFor(input, dir string) (string, error) {
	return freeName(input, dir, "_complete")
}

// writeBackup copies input to <stem>_backup<ext> in dir.
func writeBackup(input, dir string) error {
	dest, err := freeName(input, dir, "_backup")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

func freeName(input, dir, suffix string) (string, error) {
	if dir == "" {
		dir = filepath.Dir(input)
	}
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(filepath.Base(input), ext)

	candidate := filepath.Join(dir, stem+suffix+ext)
	for i := 1; i <= maxCandidates; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("check output path: %w", err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s%s(%d)%s", stem, suffix, i, ext))
	}
	return "", fmt.Errorf("no free output name for %s in %s", filepath.Base(input), dir)
}
