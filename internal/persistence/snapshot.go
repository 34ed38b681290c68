package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"

	"github.com/lojhan/chainkv/internal/store"
)

const (
	SnapshotMagic   = "CHAINKV"
	SnapshotVersion = 1

	checksumSize = 8
)

var ErrBadSnapshot = errors.New("bad snapshot")

type SnapshotWriter struct {
	writer io.Writer
	digest *xxhash.Digest
	buf    [binary.MaxVarintLen64]byte
}

// NewSnapshotWriter hashes everything it writes so WriteTrailer can append
// the checksum.
func NewSnapshotWriter(w io.Writer) *SnapshotWriter {
	d := xxhash.New()
	return &SnapshotWriter{
		writer: io.MultiWriter(w, d),
		digest: d,
	}
}

func (w *SnapshotWriter) WriteHeader(entries int) error {
	if _, err := io.WriteString(w.writer, SnapshotMagic); err != nil {
		return err
	}
	if _, err := w.writer.Write([]byte{SnapshotVersion}); err != nil {
		return err
	}
	return w.writeLength(uint64(entries))
}

func (w *SnapshotWriter) WriteEntry(key, value string) error {
	if err := w.writeString(key); err != nil {
		return err
	}
	return w.writeString(value)
}

func (w *SnapshotWriter) WriteTrailer() error {
	var sum [checksumSize]byte
	binary.LittleEndian.PutUint64(sum[:], w.digest.Sum64())
	_, err := w.writer.Write(sum[:])
	return err
}

func (w *SnapshotWriter) writeLength(n uint64) error {
	size := binary.PutUvarint(w.buf[:], n)
	_, err := w.writer.Write(w.buf[:size])
	return err
}

func (w *SnapshotWriter) writeString(s string) error {
	if err := w.writeLength(uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w.writer, s)
	return err
}

type pair struct {
	key, value string
}

// SaveSnapshot writes every entry of s to path through a temp file in the
// same directory, then renames it into place. It returns the entry count.
func SaveSnapshot(path string, s *store.Store) (n int, err error) {
	var entries []pair
	s.Range(func(key, value string) bool {
		entries = append(entries, pair{key, value})
		return true
	})

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	buffered := bufio.NewWriter(tmp)
	if err = writeSnapshot(buffered, entries); err != nil {
		return 0, multierr.Append(fmt.Errorf("failed to write snapshot: %w", err), tmp.Close())
	}
	if err = multierr.Combine(buffered.Flush(), tmp.Sync()); err != nil {
		return 0, multierr.Append(fmt.Errorf("failed to flush snapshot: %w", err), tmp.Close())
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return len(entries), nil
}

func writeSnapshot(w io.Writer, entries []pair) error {
	sw := NewSnapshotWriter(w)
	if err := sw.WriteHeader(len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := sw.WriteEntry(e.key, e.value); err != nil {
			return err
		}
	}
	return sw.WriteTrailer()
}

// LoadSnapshot inserts the entries stored at path into s. A missing file is
// not an error and loads nothing.
func LoadSnapshot(path string, s *store.Store) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read snapshot: %w", err)
	}

	n := 0
	err = DecodeSnapshot(data, func(key, value string) error {
		if _, err := s.Set(key, value); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// DecodeSnapshot verifies data and calls fn for each stored entry.
func DecodeSnapshot(data []byte, fn func(key, value string) error) error {
	headerSize := len(SnapshotMagic) + 1
	if len(data) < headerSize+checksumSize {
		return fmt.Errorf("%w: file too short", ErrBadSnapshot)
	}
	if string(data[:len(SnapshotMagic)]) != SnapshotMagic {
		return fmt.Errorf("%w: invalid magic", ErrBadSnapshot)
	}
	if v := data[len(SnapshotMagic)]; v != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, v)
	}

	body := data[:len(data)-checksumSize]
	want := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
	if got := xxhash.Sum64(body); got != want {
		return fmt.Errorf("%w: checksum mismatch", ErrBadSnapshot)
	}

	r := &snapshotReader{buf: body[headerSize:]}
	count, err := r.readLength()
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		key, err := r.readString()
		if err != nil {
			return fmt.Errorf("entry %d key: %w", i, err)
		}
		value, err := r.readString()
		if err != nil {
			return fmt.Errorf("entry %d value: %w", i, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadSnapshot, len(r.buf))
	}
	return nil
}

type snapshotReader struct {
	buf []byte
}

func (r *snapshotReader) readLength() (uint64, error) {
	n, size := binary.Uvarint(r.buf)
	if size <= 0 {
		return 0, fmt.Errorf("%w: invalid length", ErrBadSnapshot)
	}
	r.buf = r.buf[size:]
	return n, nil
}

func (r *snapshotReader) readString() (string, error) {
	n, err := r.readLength()
	if err != nil {
		return "", err
	}
	if n > uint64(len(r.buf)) {
		return "", fmt.Errorf("%w: string overruns file", ErrBadSnapshot)
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s, nil
}
