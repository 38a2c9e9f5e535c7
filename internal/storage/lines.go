package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// AppendLine marshals v as one compact JSON line and appends it with fsync.
func AppendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append line: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// ReadLines streams each non-empty line of a JSONL file to fn with its 1-based
// line number. Malformed-line policy is the caller's: fn receives raw bytes.
func ReadLines(path string, fn func(lineno int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineno, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// WriteLinesAtomic replaces a JSONL file with one compact line per record,
// using the atomic swap discipline.
func WriteLinesAtomic(path string, records []any) error {
	var buf bytes.Buffer
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("json marshal: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return AtomicWriteRaw(path, buf.Bytes(), validateLines)
}

func validateLines(content []byte) error {
	for i, line := range bytes.Split(content, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := ValidateJSON(line); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}
