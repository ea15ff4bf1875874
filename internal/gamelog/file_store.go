package gamelog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore appends one JSON object per line to <dir>/<game_id>.log, a
// plain-file default kept machine-parseable: one record per append, no
// prose formatting, since there is no dashboard consuming this log as
// human-readable text.
type FileStore struct {
	mu   sync.Mutex
	dir  string
	file map[string]*os.File
}

// NewFileStore returns a Store that appends to dir/<game_id>.log,
// creating dir if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gamelog: create log dir: %w", err)
	}
	return &FileStore{dir: dir, file: make(map[string]*os.File)}, nil
}

type logRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	Title     string          `json:"title,omitempty"`
	Night     *NightResult    `json:"night,omitempty"`
	Vote      *VoteResult     `json:"vote,omitempty"`
	End       *GameEnd        `json:"end,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

func (f *FileStore) fileFor(gameID string) (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fh, ok := f.file[gameID]; ok {
		return fh, nil
	}
	path := filepath.Join(f.dir, gameID+".log")
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("gamelog: open %s: %w", path, err)
	}
	f.file[gameID] = fh
	return fh, nil
}

func (f *FileStore) append(gameID string, rec logRecord) error {
	rec.Timestamp = time.Now()
	fh, err := f.fileFor(gameID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("gamelog: marshal record: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err = fh.Write(append(line, '\n'))
	return err
}

func (f *FileStore) LogSection(_ context.Context, gameID, title string) error {
	return f.append(gameID, logRecord{Kind: "section", Title: title})
}

func (f *FileStore) LogNightResult(_ context.Context, gameID string, result NightResult) error {
	return f.append(gameID, logRecord{Kind: "night_result", Night: &result})
}

func (f *FileStore) LogVoteResult(_ context.Context, gameID string, result VoteResult) error {
	return f.append(gameID, logRecord{Kind: "vote_result", Vote: &result})
}

func (f *FileStore) LogGameEnd(_ context.Context, gameID string, end GameEnd) error {
	return f.append(gameID, logRecord{Kind: "game_end", End: &end})
}

func (f *FileStore) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fh := range f.file {
		fh.Close()
	}
}
