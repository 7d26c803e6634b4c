package session

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TranscriptLog records the final utterances of one call, one per line.
type TranscriptLog interface {
	Append(text string) error
	Close() error
}

// ErrTranscriptClosed is returned when appending to a closed transcript.
var ErrTranscriptClosed = errors.New("transcript closed")

// FileTranscript is an append-only transcript file at <dir>/<sessionID>.txt.
type FileTranscript struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *bufio.Writer
	closed bool
}

// OpenTranscript creates the transcript file for a session, truncating any
// previous content.
func OpenTranscript(dir, sessionID string) (*FileTranscript, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, transcriptName(sessionID))
	//nolint:gosec // path is built from the configured dir and a sanitized id
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileTranscript{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// transcriptName keeps the session ID from escaping the transcript dir.
func transcriptName(sessionID string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, sessionID)
	if name == "" || name == "." || name == ".." {
		name = "session"
	}
	return name + ".txt"
}

// Path returns the file path.
func (t *FileTranscript) Path() string {
	return t.path
}

// Append writes one utterance followed by a newline and flushes it.
func (t *FileTranscript) Append(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTranscriptClosed
	}
	if _, err := t.w.WriteString(text + "\n"); err != nil {
		return err
	}
	return t.w.Flush()
}

// Close flushes, syncs and closes the file. Safe to call multiple times.
func (t *FileTranscript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return errors.Join(t.w.Flush(), t.file.Sync(), t.file.Close())
}

// nopTranscript is used when transcripts are disabled.
type nopTranscript struct{}

func (nopTranscript) Append(string) error { return nil }
func (nopTranscript) Close() error        { return nil }
