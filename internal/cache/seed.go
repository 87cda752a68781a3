package cache

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadSeedFile warms the cache from a file of pre-translated sentences, one
// per line as source|srcLang|tgtLang|translation. Blank lines and lines
// starting with # are skipped. A missing file is not an error; a malformed
// line is.
func (c *Cache) LoadSeedFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	loaded := 0
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			return loaded, fmt.Errorf("seed file line %d: expected source|src|tgt|translation", lineNo)
		}

		c.Store(parts[0], strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), strings.TrimSpace(parts[3]))
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("failed to read seed file: %w", err)
	}

	return loaded, nil
}
