package dex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
)

// FileExt is the extension of store files
const FileExt = ".dex"

// ErrNoHeader is returned when a store file exists but has no header line
var ErrNoHeader = errors.New("store has no header")

var errMissingHeader = errors.New("first line is blank but the file has content")

// HeaderError reports a header line that could not be decoded
type HeaderError struct {
	Path string
	Err  error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("failed to parse channel header in %s: %v", e.Path, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

// Store is the ordered message history of one conversation. Messages are
// kept sorted ascending by timestamp at all times.
type Store struct {
	Header   Channel
	Messages []Message

	// Skipped counts message lines dropped by Load
	Skipped int
}

// New creates an empty store for the given channel
func New(header Channel) *Store {
	return &Store{Header: header}
}

// StorePath returns where the store of a channel lives under root
func StorePath(root string, ch Channel) string {
	dir := "DMs"
	if !ch.IsDM() {
		dir = ch.GuildID.String()
	}
	return filepath.Join(root, dir, ch.ID.String()+FileExt)
}

// Load parses a store file. Message lines that fail to parse are skipped
// with a warning so a partially corrupt file still yields its valid part.
func Load(path string) (*Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)

	var s *Store
	lineNo := 0
	blankHeader := false
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = bytes.TrimSpace(line)
			switch {
			case s == nil && len(line) == 0:
				// only blank lines so far; empty unless content follows
				blankHeader = true
			case s == nil:
				if blankHeader {
					return nil, &HeaderError{Path: path, Err: errMissingHeader}
				}
				s = &Store{}
				if err := json.Unmarshal(line, &s.Header); err != nil {
					return nil, &HeaderError{Path: path, Err: err}
				}
			case len(line) == 0:
			default:
				var m Message
				if err := json.Unmarshal(line, &m); err != nil {
					log.Warn("line failed to parse", "path", path, "line", lineNo, "err", err)
					s.Skipped++
					break
				}
				s.Messages = append(s.Messages, m)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if s == nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, readErr)
			}
			// keep what was read; a truncated tail is the common crash shape
			log.Warn("failed to read next line, file is likely corrupted", "path", path, "line", lineNo+1, "err", readErr)
			s.Skipped++
			break
		}
	}
	if s == nil {
		return nil, ErrNoHeader
	}

	if !s.sorted() {
		log.Warn("store was not sorted, reordering", "path", path)
		slices.SortStableFunc(s.Messages, func(a, b Message) int {
			return CompareTimestamps(a.Timestamp, b.Timestamp)
		})
	}

	return s, nil
}

// CompareTimestamps orders sort keys. An absent timestamp sorts before
// every present one and equals only another absent timestamp.
func CompareTimestamps(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func (s *Store) search(ts *time.Time) (int, bool) {
	return slices.BinarySearchFunc(s.Messages, ts, func(m Message, target *time.Time) int {
		return CompareTimestamps(m.Timestamp, target)
	})
}

// upperBound returns the index of the first message sorting after ts
func (s *Store) upperBound(ts *time.Time) int {
	lo, hi := 0, len(s.Messages)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if CompareTimestamps(s.Messages[mid].Timestamp, ts) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// InsertOrUpdate places m by its timestamp. A message already stored under
// the exact same timestamp is replaced, which makes refetching an
// overlapping range idempotent. It reports whether m was newly inserted.
func (s *Store) InsertOrUpdate(m Message) bool {
	idx, found := s.search(m.Timestamp)
	if found {
		s.Messages[idx] = m
		return false
	}
	s.Messages = slices.Insert(s.Messages, idx, m)
	return true
}

// Insert places m after every message sharing its timestamp without
// replacing anything.
func (s *Store) Insert(m Message) {
	idx := s.upperBound(m.Timestamp)
	s.Messages = slices.Insert(s.Messages, idx, m)
}

// Window returns the index range [lo, hi) of messages whose timestamp lies
// within [from, to].
func (s *Store) Window(from, to time.Time) (int, int) {
	lo, _ := s.search(&from)
	hi := s.upperBound(&to)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// LastID returns the id of the chronologically last message that came from
// the remote service, or 0 if there is none.
func (s *Store) LastID() Snowflake {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if !s.Messages[i].IsSynthesized() {
			return s.Messages[i].ID
		}
	}
	return 0
}

// Len returns the number of stored messages
func (s *Store) Len() int {
	return len(s.Messages)
}

func (s *Store) sorted() bool {
	return slices.IsSortedFunc(s.Messages, func(a, b Message) int {
		return CompareTimestamps(a.Timestamp, b.Timestamp)
	})
}

// Flush rewrites the whole store. The file is written to a temporary
// sibling and renamed into place so an interrupted flush leaves the
// previous version readable.
func (s *Store) Flush(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(s.Header); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	for i := range s.Messages {
		if err := enc.Encode(normalize(s.Messages[i])); err != nil {
			return fmt.Errorf("failed to encode message %s: %w", s.Messages[i].ID, err)
		}
	}

	return writeFileAtomic(path, buf.Bytes(), 0o644)
}

// normalize keeps list fields as JSON arrays rather than null
func normalize(m Message) Message {
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.Embeds == nil {
		m.Embeds = []json.RawMessage{}
	}
	return m
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
