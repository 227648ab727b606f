// Package snapshot persists the index as a headerless sequence of
// fixed-width record images. The layout is pipe[64] ‖ blockSize u32 ‖
// time u64, little endian, 76 bytes per record, no framing and no
// version marker.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/haukened/fuzzystore/internal/fuzzy/common/log"
	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
)

// RecordSize is the on-disk width of one record image.
const RecordSize = domain.PipeSize + 4 + 8

// Store reads and rewrites the snapshot file at a fixed path.
type Store struct {
	path   string
	logger log.Logger
}

// New creates a snapshot Store for the given file path.
func New(path string, logger log.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

func encodeRecord(buf []byte, rec domain.Record) {
	copy(buf[:domain.PipeSize], rec.Hash.Pipe[:])
	binary.LittleEndian.PutUint32(buf[domain.PipeSize:], rec.Hash.BlockSize)
	binary.LittleEndian.PutUint64(buf[domain.PipeSize+4:], rec.Time)
}

func decodeRecord(buf []byte) domain.Record {
	var rec domain.Record
	copy(rec.Hash.Pipe[:], buf[:domain.PipeSize])
	rec.Hash.BlockSize = binary.LittleEndian.Uint32(buf[domain.PipeSize:])
	rec.Time = binary.LittleEndian.Uint64(buf[domain.PipeSize+4:])
	return rec
}

// Load reads the snapshot file and invokes load for every complete
// record. A trailing partial record is logged and discarded. It returns
// the number of records loaded. A missing or unreadable file is an error
// for the caller to treat as non-fatal.
func (s *Store) Load(load func(domain.Record)) (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("cannot open hash file %s: %w", s.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	buf := make([]byte, RecordSize)
	n := 0
	for {
		read, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			s.logger.Warn(map[string]any{
				"file":  s.path,
				"bytes": read,
			}, "ignoring partial record at end of hash file")
			break
		}
		if err != nil {
			return n, fmt.Errorf("cannot read hash file %s: %w", s.path, err)
		}
		load(decodeRecord(buf))
		n++
	}
	return n, nil
}

// Rewrite truncates the snapshot file and writes the records that fn
// emits. fn receives an emit callback whose error, if any, aborts the
// walk and is returned. The file is created with mode rw-r--r--.
func (s *Store) Rewrite(fn func(emit func(domain.Record) error) error) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create hash file %s: %w", s.path, err)
	}

	w := bufio.NewWriter(f)
	buf := make([]byte, RecordSize)
	err = fn(func(rec domain.Record) error {
		encodeRecord(buf, rec)
		if _, werr := w.Write(buf); werr != nil {
			return fmt.Errorf("cannot write hash file %s: %w", s.path, werr)
		}
		return nil
	})
	if err != nil {
		_ = f.Close()
		return err
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("cannot write hash file %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cannot close hash file %s: %w", s.path, err)
	}
	return nil
}
