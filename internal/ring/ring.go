// Package ring implements the shared-memory candle transport between the
// ingest process (single writer) and the analysis process (single reader).
//
// The backing file holds a fixed header followed by a circular array of
// fixed-width slots. Both cursors are monotonically increasing slot counts,
// never wrapped; the slot index is cursor % capacity. Cursor loads and
// stores go through sync/atomic on the mapped memory, which is what makes
// the cursor protocol valid across processes without any mutex.
package ring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"binance-signal-bot-go/internal/models"

	"golang.org/x/sys/unix"
)

const (
	headerSize    = 64
	ringVersion   = 1
	offCapacity   = 8
	offWrite      = 16
	offRead       = 24
	offHeartbeats = 32
)

var ringMagic = [4]byte{'T', 'K', 'R', '1'}

// Heartbeat slots in the header, one per supervised unit.
const (
	SlotIngest = iota
	SlotAnalyze
	SlotExecute
	SlotMaintain
	slotCount
)

var (
	ErrInvalidMagic       = errors.New("ring: invalid magic")
	ErrUnsupportedVersion = errors.New("ring: unsupported version")
	ErrTruncatedFile      = errors.New("ring: file smaller than header claims")
)

// Ring is one attached end of the shared buffer. The process that called
// Create owns the write cursor; the process that reads owns the read cursor.
type Ring struct {
	f        *os.File
	data     []byte
	capacity uint64

	writeCur   *uint64
	readCur    *uint64
	heartbeats [slotCount]*int64

	overflows uint64
	dropped   uint64
}

// Create initializes (or re-initializes) the backing file with the given
// capacity and maps it. The supervisor calls this exactly once per group
// start so every unit attaches to a consistent, empty buffer.
func Create(path string, capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring: capacity must be positive, got %d", capacity)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(headerSize + capacity*SlotSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	r, err := attach(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	copy(r.data[0:4], ringMagic[:])
	binary.LittleEndian.PutUint32(r.data[4:8], ringVersion)
	binary.LittleEndian.PutUint64(r.data[offCapacity:offCapacity+8], uint64(capacity))
	atomic.StoreUint64(r.writeCur, 0)
	atomic.StoreUint64(r.readCur, 0)
	now := time.Now().UnixNano()
	for i := 0; i < slotCount; i++ {
		atomic.StoreInt64(r.heartbeats[i], now)
	}
	r.capacity = uint64(capacity)
	return r, nil
}

// Open attaches to a buffer another process already initialized.
func Open(path string) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := attach(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	if [4]byte{r.data[0], r.data[1], r.data[2], r.data[3]} != ringMagic {
		r.Close()
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(r.data[4:8]); v != ringVersion {
		r.Close()
		return nil, ErrUnsupportedVersion
	}
	r.capacity = binary.LittleEndian.Uint64(r.data[offCapacity : offCapacity+8])
	if int64(headerSize+r.capacity*SlotSize) > info.Size() {
		r.Close()
		return nil, ErrTruncatedFile
	}
	return r, nil
}

func attach(f *os.File, size int64) (*Ring, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap失败: %w", err)
	}
	r := &Ring{f: f, data: data}
	r.writeCur = (*uint64)(unsafe.Pointer(&data[offWrite]))
	r.readCur = (*uint64)(unsafe.Pointer(&data[offRead]))
	for i := 0; i < slotCount; i++ {
		r.heartbeats[i] = (*int64)(unsafe.Pointer(&data[offHeartbeats+8*i]))
	}
	return r, nil
}

// Write encodes the candle into the next slot and advances the write cursor.
// The writer never blocks: when the reader has fallen more than capacity
// behind, the oldest unread slot is overwritten and Write returns false.
// Overflow is a metric, not an error.
func (r *Ring) Write(c models.Candle) bool {
	w := atomic.LoadUint64(r.writeCur)
	slot := r.data[headerSize+(w%r.capacity)*SlotSize:]
	encodeSlot(slot, c)
	// The cursor store publishes the slot; it must happen after the encode.
	atomic.StoreUint64(r.writeCur, w+1)

	if w+1-atomic.LoadUint64(r.readCur) > r.capacity {
		atomic.AddUint64(&r.overflows, 1)
		return false
	}
	return true
}

// ReadNew returns every candle between the reader's last-seen cursor and the
// writer's current cursor, oldest first, and advances the read cursor exactly
// once. After an overrun it skips ahead to the oldest slot that still
// survives, so a lagging reader sees a gap rather than recycled data.
func (r *Ring) ReadNew() []models.Candle {
	rd := atomic.LoadUint64(r.readCur)
	w := atomic.LoadUint64(r.writeCur)
	if w == rd {
		return nil
	}
	if w-rd > r.capacity {
		skipped := w - r.capacity - rd
		atomic.AddUint64(&r.dropped, skipped)
		rd = w - r.capacity
	}
	out := make([]models.Candle, 0, w-rd)
	for cur := rd; cur < w; cur++ {
		slot := r.data[headerSize+(cur%r.capacity)*SlotSize:]
		out = append(out, decodeSlot(slot))
	}
	atomic.StoreUint64(r.readCur, w)
	return out
}

// Lag returns how many written slots the reader has not consumed yet.
func (r *Ring) Lag() uint64 {
	w := atomic.LoadUint64(r.writeCur)
	rd := atomic.LoadUint64(r.readCur)
	if w < rd {
		return 0
	}
	return w - rd
}

// Overflows returns how many writes overran the reader (writer side).
func (r *Ring) Overflows() uint64 {
	return atomic.LoadUint64(&r.overflows)
}

// Dropped returns how many candles the reader skipped after overruns.
func (r *Ring) Dropped() uint64 {
	return atomic.LoadUint64(&r.dropped)
}

// Capacity returns the slot count of the buffer.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// Beat records a liveness timestamp for the given unit slot.
func (r *Ring) Beat(slot int) {
	if slot < 0 || slot >= slotCount {
		return
	}
	atomic.StoreInt64(r.heartbeats[slot], time.Now().UnixNano())
}

// BeatAge returns how long ago the given unit last recorded a heartbeat.
func (r *Ring) BeatAge(slot int) time.Duration {
	if slot < 0 || slot >= slotCount {
		return 0
	}
	last := atomic.LoadInt64(r.heartbeats[slot])
	return time.Duration(time.Now().UnixNano() - last)
}

// Close unmaps the buffer and closes the backing file.
func (r *Ring) Close() error {
	var first error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			first = err
		}
		r.data = nil
	}
	if r.f != nil {
		if err := r.f.Close(); err != nil && first == nil {
			first = err
		}
		r.f = nil
	}
	return first
}
