package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tgcast/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.chats.snapshot.json  (periodic snapshot of the registry)
//   - <prefix>.chats.journal.jsonl  (append-only registry journal)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditPath string
	auditFile *os.File

	chatsSnapshotPath string
	chatsJournalFile  *os.File
	chats             map[int64]Conversation

	chatWrites int
}

const compactEvery = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".chats.snapshot.json"
	journalPath := prefix + ".chats.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	chats := map[int64]Conversation{}
	if err := loadChatsSnapshot(snapPath, chats); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("registry snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayChatsJournal(journalPath, chats); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("registry journal replay failed", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("conversations", len(chats)))
	return &fileStore{
		log:               log,
		auditPath:         auditPath,
		auditFile:         af,
		chatsSnapshotPath: snapPath,
		chatsJournalFile:  jf,
		chats:             chats,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2, err3 error
	if s.chatsJournalFile != nil {
		if s.chatWrites > 0 {
			err3 = s.compactLocked()
		}
		err2 = s.chatsJournalFile.Close()
		s.chatsJournalFile = nil
	}
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	return errors.Join(err1, err2, err3)
}

func (s *fileStore) TouchConversation(ctx context.Context, c Conversation) error {
	_ = ctx
	if c.ChatID == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatsJournalFile == nil {
		return errors.New("registry journal closed")
	}
	c, changed := mergeConversation(s.chats[c.ChatID], c)
	if !changed {
		return nil
	}
	s.chats[c.ChatID] = c

	if err := json.NewEncoder(s.chatsJournalFile).Encode(c); err != nil {
		return err
	}
	s.chatWrites++
	if s.chatWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("registry compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]Conversation, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.Unlock()
	sortConversations(out)
	return out, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) LastAudit(ctx context.Context, action string) (AuditEntry, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.auditPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return AuditEntry{}, false, nil
		}
		return AuditEntry{}, false, err
	}
	defer f.Close()

	var (
		last  AuditEntry
		found bool
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.Action == action {
			last, found = e, true
		}
	}
	return last, found, sc.Err()
}

func (s *fileStore) compactLocked() error {
	list := make([]Conversation, 0, len(s.chats))
	for _, c := range s.chats {
		list = append(list, c)
	}
	sortConversations(list)

	tmp := s.chatsSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.chatsSnapshotPath); err != nil {
		return err
	}
	if err := s.chatsJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.chatsJournalFile.Seek(0, 2)
	s.chatWrites = 0
	return err
}

func loadChatsSnapshot(path string, out map[int64]Conversation) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Conversation
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, c := range list {
		out[c.ChatID] = c
	}
	return nil
}

func replayChatsJournal(path string, out map[int64]Conversation) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var c Conversation
		if err := json.Unmarshal(s.Bytes(), &c); err != nil {
			continue
		}
		if c.ChatID == 0 {
			continue
		}
		out[c.ChatID], _ = mergeConversation(out[c.ChatID], c)
	}
	return s.Err()
}

// mergeConversation folds next into prev. Activity only moves forward; a
// non-empty name always replaces the stored one.
func mergeConversation(prev, next Conversation) (Conversation, bool) {
	if prev.ChatID == 0 {
		next.Name = strings.TrimSpace(next.Name)
		return next, true
	}
	out := prev
	changed := false
	if next.LastActivity.After(prev.LastActivity) {
		out.LastActivity = next.LastActivity
		changed = true
	}
	if name := strings.TrimSpace(next.Name); name != "" && name != prev.Name {
		out.Name = name
		changed = true
	}
	return out, changed
}
