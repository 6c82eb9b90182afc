// Package snapshot persists the chat list produced by a collect run.
//
// Format: one record per line, "<id>|<name>|<YYYY-MM-DD HH:MM:SS>", UTF-8, no header.
// Names are written verbatim; a name containing '|' does not survive a reload.
package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	Delimiter = "|"

	// TimeLayout is the persisted activity layout: local time, seconds resolution, no zone.
	TimeLayout = "2006-01-02 15:04:05"

	DefaultPath = "users.txt"
)

var (
	// ErrSnapshotMissing marks an absent snapshot file. Read maps it to an empty list.
	ErrSnapshotMissing = errors.New("snapshot missing")
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
)

// Record is one collected conversation.
type Record struct {
	ID           int64
	Name         string
	LastActivity string
}

// Activity parses LastActivity back into local time.
func (r Record) Activity() (time.Time, error) {
	return time.ParseInLocation(TimeLayout, r.LastActivity, time.Local)
}

// FormatActivity renders t the way Write persists it.
func FormatActivity(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

type Store struct {
	path string
}

func NewStore(path string) *Store {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Write replaces the whole snapshot with records.
func (s *Store) Write(records []Record) error {
	var buf bytes.Buffer
	for _, r := range records {
		buf.WriteString(strconv.FormatInt(r.ID, 10))
		buf.WriteString(Delimiter)
		buf.WriteString(r.Name)
		buf.WriteString(Delimiter)
		buf.WriteString(r.LastActivity)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Read loads the snapshot. A missing file yields an empty slice.
// Lines that do not split into exactly three fields are skipped; a
// non-numeric id fails the whole read with ErrSnapshotCorrupt.
func (s *Store) Read() ([]Record, error) {
	f, err := s.open()
	if errors.Is(err, ErrSnapshotMissing) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []Record{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		parts := strings.Split(strings.TrimSpace(sc.Text()), Delimiter)
		if len(parts) != 3 {
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: invalid id %q", ErrSnapshotCorrupt, s.path, line, parts[0])
		}
		out = append(out, Record{ID: id, Name: parts[1], LastActivity: parts[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) open() (*os.File, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotMissing, s.path)
	}
	return f, err
}
