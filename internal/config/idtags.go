package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadIdTagsFile reads one idTag per non-blank line, skipping lines that
// start with '#', grounded on the teacher's plain-text allowlist loading
// style used elsewhere for simple file-backed sets. Returns nil (not an
// error) if path is empty.
func LoadIdTagsFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open idTags file %s: %w", path, err)
	}
	defer f.Close()

	var tags []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tags = append(tags, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read idTags file %s: %w", path, err)
	}
	return tags, nil
}
