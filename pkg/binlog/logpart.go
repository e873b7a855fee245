package binlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tabletdb/pkg/clock"
	"tabletdb/pkg/listener"
	"tabletdb/pkg/types"
)

const segmentSuffix = ".binlog"

// LogPart is one partition's binlog: a sequence of rotating segment files,
// each holding length-prefixed LogEntry records ordered by strictly
// increasing Offset. Appends are funneled through a single async writer
// goroutine the same way the teacher's WAL uses listener.Listener, so
// callers never block on fsync.
type LogPart struct {
	*listener.Listener[LogEntry]

	mu  sync.Mutex
	dir string

	segmentMaxBytes int64
	notifyOnPut     bool

	offset *clock.AtomicClock
	term   types.Term

	curFile   *os.File
	curWriter *bufio.Writer
	curStart  types.Offset
	curSize   int64

	inputCh chan LogEntry
	doneCh  chan types.Offset
	errCh   chan error
}

// Open opens (creating if absent) the LogPart rooted at dir, resuming
// append offsets from the highest record found on disk.
func Open(dir string, segmentMaxBytes int64, notifyOnPut bool) (*LogPart, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty binlog dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create binlog dir: %w", err)
	}

	lp := &LogPart{
		dir:             dir,
		segmentMaxBytes: segmentMaxBytes,
		notifyOnPut:     notifyOnPut,
		offset:          clock.NewAtomic(0),
		inputCh:         make(chan LogEntry, 64),
		doneCh:          make(chan types.Offset, 64),
		errCh:           make(chan error, 1),
	}

	lastOffset, err := lp.recoverLastOffset()
	if err != nil {
		return nil, err
	}
	lp.offset.Set(lastOffset)

	if err := lp.openTailSegment(); err != nil {
		return nil, err
	}

	lp.Listener = listener.New(lp.inputCh, lp.writeOne, lp.stop)
	return lp, nil
}

// SetTerm updates the term new appends are stamped with, called whenever
// the partition's Replicator transitions role or receives a new term from
// coordination.
func (lp *LogPart) SetTerm(term types.Term) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.term = term
}

// Append enqueues entry for async, durable append and returns the offset
// it was assigned. The write itself (and its fsync) happens on the
// listener goroutine; callers that need durability ack should watch Done().
func (lp *LogPart) Append(e LogEntry) types.Offset {
	lp.mu.Lock()
	e.Term = lp.term
	lp.mu.Unlock()

	e.Offset = types.Offset(lp.offset.Next())
	lp.inputCh <- e
	return e.Offset
}

// Done reports offsets as they are durably persisted, in order.
func (lp *LogPart) Done() <-chan types.Offset { return lp.doneCh }

// Errs surfaces any write failure hit by the async writer.
func (lp *LogPart) Errs() <-chan error { return lp.errCh }

func (lp *LogPart) writeOne(e LogEntry) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if lp.curSize >= lp.segmentMaxBytes {
		if err := lp.rotate(e.Offset); err != nil {
			return err
		}
	}

	n, err := lp.writeRecord(e)
	if err != nil {
		select {
		case lp.errCh <- err:
		default:
		}
		return err
	}
	lp.curSize += int64(n)

	if lp.notifyOnPut {
		if err := lp.curWriter.Flush(); err != nil {
			return fmt.Errorf("flush binlog segment: %w", err)
		}
		if err := lp.curFile.Sync(); err != nil {
			return fmt.Errorf("sync binlog segment: %w", err)
		}
	}

	lp.doneCh <- e.Offset
	return nil
}

// SyncToDisk flushes and fsyncs the tail segment; the manager's binlog
// maintenance loop calls this through Partition.SyncBinlog on every
// binlog_sync_to_disk_interval tick.
func (lp *LogPart) SyncToDisk() error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if err := lp.curWriter.Flush(); err != nil {
		return fmt.Errorf("flush binlog segment: %w", err)
	}
	return lp.curFile.Sync()
}

func (lp *LogPart) writeRecord(e LogEntry) (int, error) {
	payload, err := encodePayload(e)
	if err != nil {
		return 0, fmt.Errorf("encode log entry: %w", err)
	}

	header := make([]byte, 20)
	binary.LittleEndian.PutUint64(header[0:8], uint64(e.Term))
	binary.LittleEndian.PutUint64(header[8:16], uint64(e.Offset))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))

	if _, err := lp.curWriter.Write(header); err != nil {
		return 0, err
	}
	if _, err := lp.curWriter.Write(payload); err != nil {
		return 0, err
	}
	return len(header) + len(payload), nil
}

func readRecord(r *bufio.Reader) (LogEntry, error) {
	header := make([]byte, 20)
	if _, err := io.ReadFull(r, header); err != nil {
		return LogEntry{}, err
	}
	term := binary.LittleEndian.Uint64(header[0:8])
	offset := binary.LittleEndian.Uint64(header[8:16])
	payloadLen := binary.LittleEndian.Uint32(header[16:20])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return LogEntry{}, err
	}

	e, err := decodePayload(payload)
	if err != nil {
		return LogEntry{}, err
	}
	e.Term = types.Term(term)
	e.Offset = types.Offset(offset)
	return e, nil
}

// rotate closes the current segment and opens a fresh one starting at
// nextOffset.
func (lp *LogPart) rotate(nextOffset types.Offset) error {
	if lp.curWriter != nil {
		if err := lp.curWriter.Flush(); err != nil {
			return err
		}
	}
	if lp.curFile != nil {
		if err := lp.curFile.Close(); err != nil {
			return err
		}
	}
	return lp.createSegment(nextOffset)
}

func (lp *LogPart) createSegment(start types.Offset) error {
	path := lp.segmentPath(start)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("create binlog segment: %w", err)
	}
	lp.curFile = f
	lp.curWriter = bufio.NewWriter(f)
	lp.curStart = start
	lp.curSize = 0
	return nil
}

func (lp *LogPart) openTailSegment() error {
	segs, err := lp.segments()
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return lp.createSegment(0)
	}

	tail := segs[len(segs)-1]
	f, err := os.OpenFile(lp.segmentPath(tail), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open tail binlog segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	lp.curFile = f
	lp.curWriter = bufio.NewWriter(f)
	lp.curStart = tail
	lp.curSize = info.Size()
	return nil
}

func (lp *LogPart) recoverLastOffset() (uint64, error) {
	segs, err := lp.segments()
	if err != nil || len(segs) == 0 {
		return 0, err
	}

	f, err := os.Open(lp.segmentPath(segs[len(segs)-1]))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var last uint64
	for {
		e, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			break
		}
		last = uint64(e.Offset)
	}
	return last, nil
}

func (lp *LogPart) segmentPath(start types.Offset) string {
	return filepath.Join(lp.dir, fmt.Sprintf("%020d%s", start, segmentSuffix))
}

func (lp *LogPart) segments() ([]types.Offset, error) {
	entries, err := os.ReadDir(lp.dir)
	if err != nil {
		return nil, err
	}
	var out []types.Offset
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, segmentSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, types.Offset(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// TruncateBefore removes whole segments that end strictly before offset,
// called by the binlog_delete_interval ticker once a snapshot has
// persisted everything up to that offset.
func (lp *LogPart) TruncateBefore(offset types.Offset) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	segs, err := lp.segments()
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(segs); i++ {
		if segs[i+1] > offset {
			break
		}
		if segs[i] == lp.curStart {
			continue
		}
		if err := os.Remove(lp.segmentPath(segs[i])); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old binlog segment: %w", err)
		}
	}
	return nil
}

func (lp *LogPart) stop() {
	close(lp.inputCh)
	close(lp.doneCh)
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.curWriter != nil {
		_ = lp.curWriter.Flush()
	}
	if lp.curFile != nil {
		_ = lp.curFile.Close()
	}
}

// Close stops the writer and flushes the tail segment.
func (lp *LogPart) Close() {
	lp.Listener.Stop()
}
