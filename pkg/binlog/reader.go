package binlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/types"
)

// Reader replays LogEntry records starting at (and including) fromOffset,
// spanning as many segments as needed. Used both by Table recovery and by
// the Replicator's per-follower syncer goroutines.
type Reader struct {
	lp   *LogPart
	segs []types.Offset
	idx  int

	file *os.File
	r    *bufio.Reader

	from types.Offset
}

// Reader opens a replay cursor over lp starting at fromOffset.
func (lp *LogPart) Reader(fromOffset types.Offset) (*Reader, error) {
	lp.mu.Lock()
	segs, err := lp.segments()
	lp.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		segs = []types.Offset{0}
	}

	idx := -1
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] <= fromOffset {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("binlog reader: offset %d precedes oldest surviving segment %d: %w", fromOffset, segs[0], dberrors.ErrOffsetTruncated)
	}

	rd := &Reader{lp: lp, segs: segs, idx: idx, from: fromOffset}
	if err := rd.openCurrent(); err != nil {
		return nil, err
	}
	return rd, nil
}

func (rd *Reader) openCurrent() error {
	if rd.file != nil {
		rd.file.Close()
	}
	path := rd.lp.segmentPath(rd.segs[rd.idx])
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open binlog segment for read: %w", err)
	}
	rd.file = f
	rd.r = bufio.NewReader(f)
	return nil
}

// Next returns the next entry at or after fromOffset, or io.EOF when the
// reader has caught up with the tail of the log.
func (rd *Reader) Next() (LogEntry, error) {
	for {
		e, err := readRecord(rd.r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return LogEntry{}, err
			}
			if rd.idx+1 >= len(rd.segs) {
				return LogEntry{}, io.EOF
			}
			rd.idx++
			if err := rd.openCurrent(); err != nil {
				return LogEntry{}, err
			}
			continue
		}
		if e.Offset < rd.from {
			continue
		}
		return e, nil
	}
}

// Close releases the reader's open segment file.
func (rd *Reader) Close() error {
	if rd.file == nil {
		return nil
	}
	return rd.file.Close()
}
