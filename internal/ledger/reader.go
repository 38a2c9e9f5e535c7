package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/taskledger/taskledger/internal/model"
	"github.com/taskledger/taskledger/internal/storage"
)

// Reader is the read-only query surface. List and search are serviced
// entirely from the index; only GetTask touches the canonical entry files.
type Reader struct {
	root   string
	logger *log.Logger
	sf     singleflight.Group
}

func NewReader(root string, logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.Default()
	}
	return &Reader{root: root, logger: logger}
}

// Filter narrows ListTasks results. Set fields are ANDed.
type Filter struct {
	EpicID       string
	Verification model.VerificationStatus
	Since        *time.Time
	CostAbove    *float64
}

// GetTask loads the canonical entry file, bypassing the index. A missing
// entry is an empty result, not an error.
func (r *Reader) GetTask(id string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	if err := storage.ReadJSON(EntryPath(r.root, id), &e); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load entry %s: %w", id, err)
	}
	return &e, nil
}

// ListTasks returns the index records matching every set filter field.
func (r *Reader) ListTasks(f Filter) ([]model.IndexRecord, error) {
	records, err := r.loadIndex()
	if err != nil {
		return nil, err
	}

	var out []model.IndexRecord
	for _, rec := range records {
		if f.EpicID != "" && rec.EpicID != f.EpicID {
			continue
		}
		if f.Verification != "" && rec.Verification != f.Verification {
			continue
		}
		if f.Since != nil && (rec.CompletedAt == nil || rec.CompletedAt.Before(*f.Since)) {
			continue
		}
		if f.CostAbove != nil && rec.CostUSD <= *f.CostAbove {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// SearchTasks matches query as a case-insensitive substring across the
// requested index fields (title and changed-files when none are given).
// Matching any one field is sufficient.
func (r *Reader) SearchTasks(query string, fields ...string) ([]model.IndexRecord, error) {
	if len(fields) == 0 {
		fields = []string{"title", "files"}
	}
	records, err := r.loadIndex()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var out []model.IndexRecord
	for _, rec := range records {
		if recordMatches(rec, needle, fields) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func recordMatches(rec model.IndexRecord, needle string, fields []string) bool {
	for _, field := range fields {
		switch field {
		case "id":
			if strings.Contains(strings.ToLower(rec.ID), needle) {
				return true
			}
		case "title":
			if strings.Contains(strings.ToLower(rec.Title), needle) {
				return true
			}
		case "files":
			for _, f := range rec.FilesChanged {
				if strings.Contains(strings.ToLower(f), needle) {
					return true
				}
			}
		case "epic":
			if strings.Contains(strings.ToLower(rec.EpicID), needle) {
				return true
			}
		case "stage":
			if strings.Contains(strings.ToLower(rec.WorkflowStage), needle) {
				return true
			}
		}
	}
	return false
}

// loadIndex re-reads the index from disk, coalescing concurrent loads.
// Malformed lines are skipped with a warning; the verifier reports them.
func (r *Reader) loadIndex() ([]model.IndexRecord, error) {
	v, err, _ := r.sf.Do("index", func() (any, error) {
		var records []model.IndexRecord
		skipped := 0
		err := storage.ReadLines(IndexPath(r.root), func(lineno int, line []byte) error {
			var rec model.IndexRecord
			if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
				skipped++
				return nil
			}
			records = append(records, rec)
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				return []model.IndexRecord(nil), nil
			}
			return nil, fmt.Errorf("read index: %w", err)
		}
		if skipped > 0 {
			r.logger.Printf("ledger read_index skipped_lines=%d", skipped)
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.IndexRecord), nil
}

// Watch notifies on index file changes so the dashboard sync layer can
// refresh. Events are debounced; the channel closes when ctx is done.
func (r *Reader) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: atomic renames replace the index inode.
	if err := watcher.Add(r.root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", r.root, err)
	}

	ch := make(chan struct{}, 1)
	indexPath := IndexPath(r.root)

	go func() {
		defer watcher.Close()
		defer close(ch)

		const debounce = 100 * time.Millisecond
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != indexPath {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					timer.Reset(debounce)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Printf("ledger watch error=%v", err)
			}
		}
	}()

	return ch, nil
}
