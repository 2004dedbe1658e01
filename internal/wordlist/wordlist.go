// Package wordlist reads newline-delimited path suffixes used to drive a probe batch.
package wordlist

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
)

// Load reads path from disk and returns the ordered, non-blank, stripped lines.
// A missing file is not fatal: it logs a warning and returns an empty list so
// the caller can still proceed (e.g. with a second wordlist).
func Load(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("wordlist not found, skipping", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			continue
		}
		lines = append(lines, s)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading wordlist", "path", path, "error", err)
	}

	return lines
}

// Combine concatenates two wordlists in order. Duplicates are intentionally
// NOT removed: canonical behavior preserves submission order and repeat
// suffixes exactly as supplied.
func Combine(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	combined := make([]string, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return combined
}
