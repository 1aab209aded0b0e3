package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"giveaway/internal/model"
)

// JournalEntry is one line of a transfer journal.
type JournalEntry struct {
	Kind       string               `json:"kind"`
	Batch      *model.TransferBatch `json:"batch,omitempty"`
	Refund     *model.Refund        `json:"refund,omitempty"`
	RecordedAt string               `json:"recorded_at"`
}

// Journal is a file-backed transfer facility for deployments without a
// broker. Requests are appended as JSON lines for an operator or an external
// sender to execute; results come back through the settle command.
type Journal struct {
	path string
	mu   sync.Mutex
}

func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

func (j *Journal) Submit(ctx context.Context, batch model.TransferBatch) error {
	return j.append(JournalEntry{Kind: "batch", Batch: &batch})
}

func (j *Journal) Refund(ctx context.Context, refund model.Refund) error {
	return j.append(JournalEntry{Kind: "refund", Refund: &refund})
}

func (j *Journal) append(entry JournalEntry) error {
	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	entry.RecordedAt = time.Now().UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	writer := bufio.NewWriter(file)
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return file.Sync()
}
