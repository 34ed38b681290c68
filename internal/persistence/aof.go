package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lojhan/chainkv/internal/resp"
	"github.com/lojhan/chainkv/internal/store"
)

type AOFSyncPolicy string

const (
	AOFSyncAlways   AOFSyncPolicy = "always"
	AOFSyncEverySec AOFSyncPolicy = "everysec"
	AOFSyncNo       AOFSyncPolicy = "no"
)

func ParseSyncPolicy(s string) (AOFSyncPolicy, error) {
	switch p := AOFSyncPolicy(strings.ToLower(s)); p {
	case AOFSyncAlways, AOFSyncEverySec, AOFSyncNo:
		return p, nil
	default:
		return "", fmt.Errorf("unknown appendfsync policy %q", s)
	}
}

// AOFWriter appends mutations to a file as RESP arrays. It satisfies
// store.Journal.
type AOFWriter struct {
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	syncPolicy AOFSyncPolicy
	lastSync   time.Time
	stopChan   chan struct{}
	syncTicker *time.Ticker
	logger     *zap.Logger
	closed     bool
}

func NewAOFWriter(path string, policy AOFSyncPolicy, logger *zap.Logger) (*AOFWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open AOF file: %w", err)
	}

	aof := &AOFWriter{
		file:       file,
		writer:     bufio.NewWriter(file),
		syncPolicy: policy,
		lastSync:   time.Now(),
		stopChan:   make(chan struct{}),
		logger:     logger,
	}

	if policy == AOFSyncEverySec {
		aof.syncTicker = time.NewTicker(time.Second)
		go aof.backgroundSync()
	}

	return aof, nil
}

func (a *AOFWriter) Append(args ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("AOF writer is closed")
	}

	if err := resp.Encode(a.writer, resp.CommandValue(args...)); err != nil {
		return fmt.Errorf("failed to write to AOF buffer: %w", err)
	}

	switch a.syncPolicy {
	case AOFSyncAlways:
		if err := a.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush AOF buffer: %w", err)
		}
		if err := a.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync AOF to disk: %w", err)
		}
		a.lastSync = time.Now()
	case AOFSyncEverySec:
		if err := a.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush AOF buffer: %w", err)
		}
	}

	return nil
}

func (a *AOFWriter) backgroundSync() {
	for {
		select {
		case <-a.syncTicker.C:
			a.mu.Lock()
			if err := multierr.Append(a.writer.Flush(), a.file.Sync()); err != nil {
				a.logger.Warn("AOF background sync failed", zap.Error(err))
			} else {
				a.lastSync = time.Now()
			}
			a.mu.Unlock()
		case <-a.stopChan:
			return
		}
	}
}

func (a *AOFWriter) LastSync() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSync
}

func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.syncTicker != nil {
		a.syncTicker.Stop()
		close(a.stopChan)
	}

	return multierr.Combine(
		wrap("failed to flush AOF on close", a.writer.Flush()),
		wrap("failed to sync AOF on close", a.file.Sync()),
		wrap("failed to close AOF file", a.file.Close()),
	)
}

func wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// LoadAOF replays the commands stored at path into s and returns how many
// were applied. A partial command at the end of the file, left by a crash
// mid-write, is cut off the file with a warning so later appends start on a
// frame boundary.
func LoadAOF(path string, s *store.Store, logger *zap.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open AOF file: %w", err)
	}

	commandCount := 0
	offset := 0
	for len(data) > 0 {
		value, n, err := resp.Decode(data)
		if errors.Is(err, resp.ErrIncomplete) {
			logger.Warn("AOF ends with a truncated command, truncating the file",
				zap.String("file", path),
				zap.Int("applied", commandCount),
				zap.Int("offset", offset),
				zap.Int("truncated_bytes", len(data)))
			if err := os.Truncate(path, int64(offset)); err != nil {
				return commandCount, fmt.Errorf("failed to truncate AOF at offset %d: %w", offset, err)
			}
			break
		}
		if err != nil {
			return commandCount, fmt.Errorf("failed to parse AOF at command %d: %w", commandCount+1, err)
		}
		if value.Type != resp.Array || len(value.Array) == 0 {
			return commandCount, fmt.Errorf("invalid AOF entry at command %d: expected array", commandCount+1)
		}

		if err := replay(s, value.Array); err != nil {
			return commandCount, fmt.Errorf("failed to replay AOF command %d: %w", commandCount+1, err)
		}

		data = data[n:]
		offset += n
		commandCount++
	}

	return commandCount, nil
}

func replay(s *store.Store, args []resp.Value) error {
	strs := make([]string, len(args))
	for i, arg := range args {
		strs[i] = arg.Str
	}

	switch name := strings.ToUpper(strs[0]); name {
	case "SET":
		if len(strs) != 3 {
			return fmt.Errorf("SET expects 2 arguments, got %d", len(strs)-1)
		}
		_, err := s.Set(strs[1], strs[2])
		return err
	case "DEL":
		_, err := s.Delete(strs[1:]...)
		return err
	case "FLUSHDB":
		return s.Flush()
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}
