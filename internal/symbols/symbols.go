// Package symbols loads symbol list files: UTF-8, one symbol per line,
// LF-terminated.
package symbols

import (
	"bufio"
	"fmt"
	"os"
)

// maxSymbolLen bounds a single symbol; longer lines are truncated.
const maxSymbolLen = 63

// LoadFile reads one symbol per line from path. Empty lines are ignored and
// lines longer than maxSymbolLen bytes are truncated.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol file: %w", err)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(line) > maxSymbolLen {
			line = line[:maxSymbolLen]
		}
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbol file: %w", err)
	}
	return symbols, nil
}

// LoadFiles concatenates the symbols of several files in argument order.
func LoadFiles(paths []string) ([]string, error) {
	var symbols []string
	for _, path := range paths {
		s, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, s...)
	}
	return symbols, nil
}
