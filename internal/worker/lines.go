package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineBytes bounds one captured line
const maxLineBytes = 64 * 1024

// ReadLines returns the non-empty lines of r, skipping '#' comments.
// Trailing whitespace is kept: spot lines are fixed-column.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return lines, nil
}

// ReadLinesFromFile reads a captured session; "-" reads stdin
func ReadLinesFromFile(filePath string) ([]string, error) {
	if filePath == "-" {
		return ReadLines(os.Stdin)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ReadLines(file)
}
