// Package filestate tracks per-conversation file submission state for the
// agent runtime. It implements the runtime's FileStateOracle contract: a
// "has this file changed since the last context submission?" oracle plus
// annotated file content for prompt rendering.
//
// State is in-process only. Hashing happens here and nowhere else; the
// context splitter consumes only the boolean answers.
package filestate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// fileRecord is the tracked state of one (conversation, path) pair.
type fileRecord struct {
	submittedHash  string
	submittedLines map[string]bool
	firstSeenHash  string
	currentHash    string
	submittedAt    time.Time
}

// Manager implements the file state oracle over a codebase root directory.
type Manager struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	state map[string]map[string]*fileRecord // conversation -> path -> record
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager rooted at the user codebase directory. All paths are
// resolved relative to root.
func New(root string, opts ...Option) *Manager {
	m := &Manager{
		root:   root,
		logger: slog.New(slog.DiscardHandler),
		state:  map[string]map[string]*fileRecord{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ChangedSinceLastSubmission reports whether path's content differs from the
// snapshot taken at the last MarkContextSubmission for this conversation.
// Unknown and unreadable files count as changed.
func (m *Manager) ChangedSinceLastSubmission(ctx context.Context, conversationID, path string) bool {
	content, err := m.read(path)
	if err != nil {
		return true
	}
	hash := hashBytes(content)

	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(conversationID, path)
	rec.currentHash = hash
	if rec.firstSeenHash == "" {
		rec.firstSeenHash = hash
	}
	if rec.submittedHash == "" {
		return true
	}
	return rec.submittedHash != hash
}

// AnnotatedContent returns the file's lines. Lines absent from the last
// submitted snapshot carry a change marker so the model can tell what moved
// since it last saw the file.
func (m *Manager) AnnotatedContent(ctx context.Context, conversationID, path string) ([]string, error) {
	content, err := m.read(path)
	if err != nil {
		return nil, fmt.Errorf("filestate: read %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")

	m.mu.Lock()
	rec := m.record(conversationID, path)
	rec.currentHash = hashBytes(content)
	if rec.firstSeenHash == "" {
		rec.firstSeenHash = rec.currentHash
	}
	submitted := rec.submittedLines
	m.mu.Unlock()

	if submitted == nil {
		return lines, nil
	}
	annotated := make([]string, len(lines))
	for i, line := range lines {
		if submitted[line] {
			annotated[i] = line
		} else {
			annotated[i] = "+ " + line
		}
	}
	return annotated, nil
}

// ChangeSummaries describes which tracked files changed: overall since the
// conversation first saw them, recent since the last context submission.
func (m *Manager) ChangeSummaries(ctx context.Context, conversationID string) (overall, recent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := m.state[conversationID]
	if files == nil {
		return "", ""
	}
	var overallChanged, recentChanged []string
	for path, rec := range files {
		if rec.currentHash == "" {
			continue
		}
		if rec.firstSeenHash != "" && rec.firstSeenHash != rec.currentHash {
			overallChanged = append(overallChanged, path)
		}
		if rec.submittedHash != "" && rec.submittedHash != rec.currentHash {
			recentChanged = append(recentChanged, path)
		}
	}
	sort.Strings(overallChanged)
	sort.Strings(recentChanged)
	if len(overallChanged) > 0 {
		overall = "- " + strings.Join(overallChanged, "\n- ")
	}
	if len(recentChanged) > 0 {
		recent = "- " + strings.Join(recentChanged, "\n- ")
	}
	return overall, recent
}

// MarkContextSubmission snapshots the current content of every tracked file
// as "submitted". Idempotent within a turn: a second call with unchanged
// files changes nothing.
func (m *Manager) MarkContextSubmission(ctx context.Context, conversationID string) {
	m.mu.Lock()
	paths := make([]string, 0)
	for path := range m.state[conversationID] {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, path := range paths {
		content, err := m.read(path)
		if err != nil {
			m.logger.Warn("submission snapshot skipped unreadable file", "path", path, "error", err)
			continue
		}
		lines := map[string]bool{}
		for _, line := range strings.Split(string(content), "\n") {
			lines[line] = true
		}
		m.mu.Lock()
		rec := m.record(conversationID, path)
		rec.submittedHash = hashBytes(content)
		rec.submittedLines = lines
		rec.submittedAt = now
		m.mu.Unlock()
	}
	m.logger.Debug("context submission marked", "conversation", conversationID, "files", len(paths))
}

// Forget drops all state for a conversation.
func (m *Manager) Forget(conversationID string) {
	m.mu.Lock()
	delete(m.state, conversationID)
	m.mu.Unlock()
}

// record returns the tracked state for (conversation, path), creating it on
// first use. Caller holds m.mu.
func (m *Manager) record(conversationID, path string) *fileRecord {
	files := m.state[conversationID]
	if files == nil {
		files = map[string]*fileRecord{}
		m.state[conversationID] = files
	}
	rec := files[path]
	if rec == nil {
		rec = &fileRecord{}
		files[path] = rec
	}
	return rec
}

func (m *Manager) read(path string) ([]byte, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(m.root, path)
	}
	return os.ReadFile(full)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
