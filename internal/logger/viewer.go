package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// MaxLineBytes caps a single log line returned to the viewer.
const MaxLineBytes = 64 * 1024

// Entry представляет одну строку журнала. Fields is nil for lines that are not JSON.
type Entry struct {
	Raw    string         `json:"raw"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Chunk is what the admin log viewer polls for.
type Chunk struct {
	Entries []Entry `json:"entries"`
	Offset  int64   `json:"offset"`
	Size    int64   `json:"size"`
}

func parseLine(line string) Entry {
	e := Entry{Raw: line}
	var fields map[string]any
	if json.Unmarshal([]byte(line), &fields) == nil {
		e.Fields = fields
	}
	return e
}

// Tail returns the last n lines of the file together with its size, so a
// follow-up ReadFrom can continue where the tail ended.
func Tail(path string, n int) (*Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}
	size := info.Size()

	// read backwards in blocks until n newlines are seen
	const block = 8 * 1024
	var buf []byte
	pos := size
	for pos > 0 && countLines(buf) <= n {
		step := int64(block)
		if pos < step {
			step = pos
		}
		pos -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, pos); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read log: %w", err)
		}
		buf = append(chunk, buf...)
	}

	lines := splitLines(buf)
	if pos > 0 && len(lines) > 0 {
		// the first line may be cut in the middle
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return &Chunk{Entries: toEntries(lines), Offset: size, Size: size}, nil
}

// ReadFrom returns up to max complete lines appended after offset. When the
// file shrank (rotation or truncation) reading restarts from the beginning.
func ReadFrom(path string, offset int64, max int) (*Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}
	size := info.Size()
	if offset < 0 || offset > size {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log: %w", err)
	}

	reader := bufio.NewReaderSize(f, 32*1024)
	var lines []string
	for len(lines) < max {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// partial line: leave it for the next poll
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		offset += int64(len(line))
		lines = append(lines, truncate(line[:len(line)-1]))
	}
	return &Chunk{Entries: toEntries(lines), Offset: offset, Size: size}, nil
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, truncate(string(b[start:i])))
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, truncate(string(b[start:])))
	}
	return lines
}

func truncate(s string) string {
	if len(s) > MaxLineBytes {
		return s[:MaxLineBytes]
	}
	return s
}

func toEntries(lines []string) []Entry {
	entries := make([]Entry, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		entries = append(entries, parseLine(l))
	}
	return entries
}
