package util

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadPrompt reads <PROMPT_DIR>/<name>.txt, falling back to the built-in text
// when the directory is unset or the file is missing or empty.
func LoadPrompt(name, fallback string) string {
	dir := os.Getenv("PROMPT_DIR")
	if dir == "" {
		return fallback
	}
	b, err := os.ReadFile(filepath.Join(dir, name+".txt"))
	if err != nil {
		return fallback
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return fallback
}
