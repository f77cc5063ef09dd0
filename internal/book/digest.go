package book

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/quantarc/matchbook/internal/domain"
)

// digestTrailer is the JSON trailer appended to both the state hash input
// and snapshot files. Best levels are grid indices, -1 when empty.
type digestTrailer struct {
	Counters Counters `json:"counters"`
	Ops      uint64   `json:"ops"`
	BestBid  int32    `json:"best_bid"`
	BestAsk  int32    `json:"best_ask"`
}

func (b *Book) trailerBytes() []byte {
	trailer, err := json.Marshal(digestTrailer{
		Counters: b.cnt,
		Ops:      b.ops,
		BestBid:  b.best[domain.Buy],
		BestAsk:  b.best[domain.Sell],
	})
	if err != nil {
		panic(fmt.Sprintf("book: marshal digest trailer: %v", err))
	}
	return trailer
}

// ComputeStateHash returns a SHA-256 digest (hex) over the raw bytes of the
// active flags, price indices, remaining quantities, level heads and tails,
// occupancy bitmaps, and a JSON trailer of counters and best indices. The
// digest is a pure function of (config, accepted command sequence).
func (b *Book) ComputeStateHash() string {
	h := sha256.New()
	h.Write(b.active)
	writeInt32s(h, b.level)
	writeInt32s(h, b.qty)
	writeInt32s(h, b.heads[domain.Buy])
	writeInt32s(h, b.tails[domain.Buy])
	writeInt32s(h, b.heads[domain.Sell])
	writeInt32s(h, b.tails[domain.Sell])
	writeUint32s(h, b.occ[domain.Buy].Words())
	writeUint32s(h, b.occ[domain.Sell].Words())
	h.Write(b.trailerBytes())
	return fmt.Sprintf("%x", h.Sum(nil))
}

// SnapshotLine renders the canonical single-line summary used as the golden
// artifact for a seeded run.
func (b *Book) SnapshotLine(seed int64, ops uint64) string {
	resting, lots := b.RestingSummary()
	return fmt.Sprintf(
		"seed=%d ops=%d acks=%d rejects=%d trades=%d reduced=%d canceled=%d filled=%d "+
			"tQty=%d tNotional=%d tChk=%d eHash=%d resting=%d restingLots=%d bestBid=%d bestAsk=%d",
		seed, ops,
		b.cnt.Acks, b.cnt.Rejects, b.cnt.Trades, b.cnt.Reduced, b.cnt.Canceled, b.cnt.Filled,
		b.cnt.TradeQty, b.cnt.TradeNotional, b.cnt.TradeChecksum, b.cnt.EventHash,
		resting, lots, b.BestBidPrice(), b.BestAskPrice(),
	)
}

// --- Full-state snapshot ---
//
// Layout: the digest arrays first (same order as the state hash input),
// then the remaining SoA columns needed for an exact restore, then a 4-byte
// little-endian trailer length and the UTF-8 JSON trailer.

// SaveState writes the full book state.
func (b *Book) SaveState(w io.Writer) error {
	write := func(buf []byte) error {
		_, err := w.Write(buf)
		return err
	}
	parts := [][]byte{
		b.active,
		int32Bytes(b.level), int32Bytes(b.qty),
		int32Bytes(b.heads[domain.Buy]), int32Bytes(b.tails[domain.Buy]),
		int32Bytes(b.heads[domain.Sell]), int32Bytes(b.tails[domain.Sell]),
		uint32Bytes(b.occ[domain.Buy].Words()), uint32Bytes(b.occ[domain.Sell].Words()),
		b.side,
		uint32Bytes(b.owner), uint32Bytes(b.extID),
		int32Bytes(b.prev), int32Bytes(b.next),
		int32Bytes(b.idToSlot),
		int32Bytes([]int32{b.freeTop}),
	}
	for _, p := range parts {
		if err := write(p); err != nil {
			return fmt.Errorf("write snapshot arrays: %w", err)
		}
	}

	trailer := b.trailerBytes()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(trailer)))
	if err := write(lenBuf[:]); err != nil {
		return fmt.Errorf("write snapshot trailer length: %w", err)
	}
	if err := write(trailer); err != nil {
		return fmt.Errorf("write snapshot trailer: %w", err)
	}
	return nil
}

// LoadState restores a book previously saved with the same configuration.
// Any shape mismatch is fatal to the load and leaves the book unusable.
func (b *Book) LoadState(r io.Reader) error {
	if _, err := io.ReadFull(r, b.active); err != nil {
		return fmt.Errorf("read snapshot active flags: %w", err)
	}
	int32Cols := []([]int32){
		b.level, b.qty,
		b.heads[domain.Buy], b.tails[domain.Buy],
		b.heads[domain.Sell], b.tails[domain.Sell],
	}
	for _, col := range int32Cols {
		if err := readInt32s(r, col); err != nil {
			return fmt.Errorf("read snapshot arrays: %w", err)
		}
	}
	if err := readUint32s(r, b.occ[domain.Buy].Words()); err != nil {
		return fmt.Errorf("read snapshot bid bitmap: %w", err)
	}
	if err := readUint32s(r, b.occ[domain.Sell].Words()); err != nil {
		return fmt.Errorf("read snapshot ask bitmap: %w", err)
	}
	if _, err := io.ReadFull(r, b.side); err != nil {
		return fmt.Errorf("read snapshot side column: %w", err)
	}
	if err := readUint32s(r, b.owner); err != nil {
		return fmt.Errorf("read snapshot owner column: %w", err)
	}
	if err := readUint32s(r, b.extID); err != nil {
		return fmt.Errorf("read snapshot id column: %w", err)
	}
	for _, col := range []([]int32){b.prev, b.next, b.idToSlot} {
		if err := readInt32s(r, col); err != nil {
			return fmt.Errorf("read snapshot link columns: %w", err)
		}
	}
	var one [4]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		return fmt.Errorf("read snapshot free-list head: %w", err)
	}
	b.freeTop = int32(binary.LittleEndian.Uint32(one[:]))

	if _, err := io.ReadFull(r, one[:]); err != nil {
		return fmt.Errorf("read snapshot trailer length: %w", err)
	}
	trailer := make([]byte, binary.LittleEndian.Uint32(one[:]))
	if _, err := io.ReadFull(r, trailer); err != nil {
		return fmt.Errorf("read snapshot trailer: %w", err)
	}
	var t digestTrailer
	if err := json.Unmarshal(trailer, &t); err != nil {
		return fmt.Errorf("decode snapshot trailer: %w", err)
	}
	b.cnt = t.Counters
	b.ops = t.Ops
	b.best[domain.Buy] = t.BestBid
	b.best[domain.Sell] = t.BestAsk
	b.ring.reset()
	return nil
}

// --- little-endian helpers ---
//
// Hashing and snapshotting copy through scratch buffers rather than
// reinterpreting memory, so the byte streams are identical across
// architectures.

func int32Bytes(v []int32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(x))
	}
	return out
}

func uint32Bytes(v []uint32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[4*i:], x)
	}
	return out
}

func writeInt32s(w io.Writer, v []int32) {
	w.Write(int32Bytes(v))
}

func writeUint32s(w io.Writer, v []uint32) {
	w.Write(uint32Bytes(v))
}

func readInt32s(r io.Reader, dst []int32) error {
	buf := make([]byte, 4*len(dst))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return nil
}

func readUint32s(r io.Reader, dst []uint32) error {
	buf := make([]byte, 4*len(dst))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return nil
}
