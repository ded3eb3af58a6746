package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// FileExporter appends records to a local file, one JSON document per line
type FileExporter struct {
	statsRecorder

	path string
	mu   sync.Mutex
	file *os.File
}

// NewFileExporter opens path for appending, creating parent directories
func NewFileExporter(path string) (*FileExporter, error) {
	if path == "" {
		return nil, fmt.Errorf("no file path specified")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}

	return &FileExporter{path: path, file: file}, nil
}

// Export appends one line
func (f *FileExporter) Export(ctx context.Context, record *types.Analysis) error {
	line, err := json.Marshal(record)
	if err != nil {
		f.recordFailure(1, err)
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return ErrClosed
	}

	if _, err := f.file.Write(line); err != nil {
		f.recordFailure(1, err)
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}

	f.recordSuccess(1, len(line))
	return nil
}

// Close syncs and closes the file
func (f *FileExporter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}

	syncErr := f.file.Sync()
	closeErr := f.file.Close()
	f.file = nil

	if syncErr != nil {
		return fmt.Errorf("failed to sync %s: %w", f.path, syncErr)
	}
	return closeErr
}

// Name returns the exporter name
func (f *FileExporter) Name() string {
	return "file"
}
