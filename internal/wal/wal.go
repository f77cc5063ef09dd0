// Package wal provides an append-only binary write-ahead log of accepted
// commands with batched durability, plus full-state snapshot files. Replay
// applies the log after the latest snapshot, in order, through the command
// router.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/matchbook/internal/book"
	"github.com/quantarc/matchbook/internal/domain"
)

// RecordSize is the fixed size of one log record:
// u8 kind | u32 owner | u32 id | u8 side | u8 tif | u8 flags |
// i64 price | i32 qty | i32 qtyDelta, little-endian throughout.
const RecordSize = 28

const (
	flagPostOnly   = 1 << 0
	flagReduceOnly = 1 << 1
)

// DefaultFlushInterval bounds how stale the on-disk tail may be.
const DefaultFlushInterval = 50 * time.Millisecond

// EncodeRecord writes cmd into dst, which must hold RecordSize bytes.
func EncodeRecord(cmd domain.Command, dst []byte) {
	dst[0] = byte(cmd.Kind)
	binary.LittleEndian.PutUint32(dst[1:], uint32(cmd.Owner))
	binary.LittleEndian.PutUint32(dst[5:], uint32(cmd.ID))
	dst[9] = byte(cmd.Side)
	dst[10] = byte(cmd.TIF)
	var flags byte
	if cmd.PostOnly {
		flags |= flagPostOnly
	}
	if cmd.ReduceOnly {
		flags |= flagReduceOnly
	}
	dst[11] = flags
	binary.LittleEndian.PutUint64(dst[12:], uint64(cmd.Price))
	binary.LittleEndian.PutUint32(dst[20:], uint32(cmd.Qty))
	binary.LittleEndian.PutUint32(dst[24:], uint32(cmd.QtyDelta))
}

// DecodeRecord parses one record. A record with an unknown kind, side, or
// TIF is corruption, which is fatal to replay.
func DecodeRecord(src []byte) (domain.Command, error) {
	var cmd domain.Command
	kind := domain.CommandKind(src[0])
	if kind < domain.CmdNew || kind > domain.CmdReplace {
		return cmd, fmt.Errorf("corrupt record: kind %d", src[0])
	}
	side := domain.Side(src[9])
	if side != domain.Buy && side != domain.Sell {
		return cmd, fmt.Errorf("corrupt record: side %d", src[9])
	}
	tif := domain.TIF(src[10])
	if tif < domain.GTC || tif > domain.FOK {
		return cmd, fmt.Errorf("corrupt record: tif %d", src[10])
	}
	cmd.Kind = kind
	cmd.Owner = int64(binary.LittleEndian.Uint32(src[1:]))
	cmd.ID = int64(binary.LittleEndian.Uint32(src[5:]))
	cmd.Side = side
	cmd.TIF = tif
	cmd.PostOnly = src[11]&flagPostOnly != 0
	cmd.ReduceOnly = src[11]&flagReduceOnly != 0
	cmd.Price = int64(binary.LittleEndian.Uint64(src[12:]))
	cmd.Qty = int64(int32(binary.LittleEndian.Uint32(src[20:])))
	cmd.QtyDelta = int64(int32(binary.LittleEndian.Uint32(src[24:])))
	return cmd, nil
}

// Writer appends records to an in-memory tail that a periodic flusher
// forces to disk. Append does no I/O itself, but it waits on the buffer lock
// while a flush is writing and syncing; durability lags by roughly the flush
// interval. The flusher observes the buffer only; it never touches book
// state.
type Writer struct {
	file *os.File
	log  *zap.Logger

	mu  sync.Mutex
	buf []byte
	err error

	stop chan struct{}
	done chan struct{}
}

// NewWriter creates the log file at path and starts the flusher. interval
// <= 0 selects DefaultFlushInterval.
func NewWriter(path string, interval time.Duration, log *zap.Logger) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wal: %w", err)
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	w := &Writer{
		file: f,
		log:  log,
		buf:  make([]byte, 0, 256*RecordSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.flushLoop(interval)
	return w, nil
}

// Append encodes cmd onto the buffered tail.
func (w *Writer) Append(cmd domain.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	var rec [RecordSize]byte
	EncodeRecord(cmd, rec[:])
	w.buf = append(w.buf, rec[:]...)
	return nil
}

// Flush forces the buffered tail to durable storage.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == 0 {
		return nil
	}
	if _, err := w.file.Write(w.buf); err != nil {
		w.err = fmt.Errorf("wal write: %w", err)
		return w.err
	}
	if err := w.file.Sync(); err != nil {
		w.err = fmt.Errorf("wal sync: %w", err)
		return w.err
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *Writer) flushLoop(interval time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				w.log.Error("wal flush failed", zap.Error(err))
				return
			}
		}
	}
}

// Close stops the flusher, flushes the tail, and closes the file.
func (w *Writer) Close() error {
	close(w.stop)
	<-w.done
	flushErr := w.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// ReadAll decodes every complete record in the log. A partial tail record
// is treated as absent (a crash mid-append); corruption before the tail is
// a hard error.
func ReadAll(path string, log *zap.Logger) ([]domain.Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wal: %w", err)
	}
	if tail := len(data) % RecordSize; tail != 0 {
		log.Warn("wal has partial tail record, truncating",
			zap.String("path", path),
			zap.Int("tail_bytes", tail))
		data = data[:len(data)-tail]
	}
	cmds := make([]domain.Command, 0, len(data)/RecordSize)
	for off := 0; off < len(data); off += RecordSize {
		cmd, err := DecodeRecord(data[off : off+RecordSize])
		if err != nil {
			return nil, fmt.Errorf("wal record %d: %w", off/RecordSize, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Replay applies every logged command to bk through the router and returns
// the number applied.
func Replay(path string, bk *book.Book, log *zap.Logger) (int, error) {
	cmds, err := ReadAll(path, log)
	if err != nil {
		return 0, err
	}
	for _, cmd := range cmds {
		bk.Apply(cmd)
	}
	log.Info("wal replayed",
		zap.String("path", path),
		zap.Int("commands", len(cmds)))
	return len(cmds), nil
}
