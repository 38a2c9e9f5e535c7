package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/taskledger/taskledger/internal/model"
	"github.com/taskledger/taskledger/internal/storage"
)

// appendIndexRecord adds one line to the index file.
func appendIndexRecord(path string, rec model.IndexRecord) error {
	return storage.AppendLine(path, rec)
}

// replaceIndexRecord rewrites the line whose ID matches rec in place. Every
// other line is preserved byte for byte, in its original position. A record
// with no existing line is appended.
func replaceIndexRecord(path string, rec model.IndexRecord) error {
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	var lines [][]byte
	found := false
	err = storage.ReadLines(path, func(_ int, line []byte) error {
		var probe struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(line, &probe) == nil && probe.ID == rec.ID {
			lines = append(lines, updated)
			found = true
			return nil
		}
		lines = append(lines, append([]byte(nil), line...))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read index: %w", err)
	}
	if !found {
		lines = append(lines, updated)
	}

	var buf []byte
	for _, line := range lines {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return storage.AtomicWriteRaw(path, buf, nil)
}

// readIndexIDs returns the set of IDs present in the index, counting (not
// failing on) malformed lines.
func readIndexIDs(path string) (map[string]int, int, error) {
	ids := make(map[string]int)
	malformed := 0
	err := storage.ReadLines(path, func(_ int, line []byte) error {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &probe); err != nil || probe.ID == "" {
			malformed++
			return nil
		}
		ids[probe.ID]++
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return ids, 0, nil
		}
		return nil, 0, err
	}
	return ids, malformed, nil
}
