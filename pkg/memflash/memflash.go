package memflash

import (
	"github.com/pkg/errors"

	"github.com/outofforest/brfs/flash"
)

var _ flash.Chip = &MemFlash{}

// MemFlash simulates NOR flash chip in memory.
// Erased bytes read as 0xFF and programming may only clear bits, exactly like the real part.
type MemFlash struct {
	data       []byte
	busyCycles int

	writeEnabled bool
	busy         int
	stuckBusy    bool
	writeLocked  bool
	protected    map[uint32]struct{}

	erases   int
	programs int
}

// New returns new memflash of the given size with all the sectors erased.
func New(size uint32) *MemFlash {
	mf := &MemFlash{
		data:      make([]byte, size),
		protected: map[uint32]struct{}{},
	}
	for i := range mf.data {
		mf.data[i] = 0xff
	}
	return mf
}

// WithBusyCycles sets the number of status polls reporting busy after each program or erase.
func (mf *MemFlash) WithBusyCycles(n int) *MemFlash {
	mf.busyCycles = n
	return mf
}

// Size returns the capacity of the chip.
func (mf *MemFlash) Size() uint32 {
	return uint32(len(mf.data))
}

// Read reads bytes starting at addr.
func (mf *MemFlash) Read(addr uint32, p []byte) error {
	if uint64(addr)+uint64(len(p)) > uint64(len(mf.data)) {
		return errors.Errorf("read at 0x%x of %d bytes is out of range", addr, len(p))
	}
	copy(p, mf.data[addr:])
	return nil
}

// WriteEnable sets the write enable latch unless the chip is write locked.
func (mf *MemFlash) WriteEnable() error {
	if !mf.writeLocked {
		mf.writeEnabled = true
	}
	return nil
}

// ReadStatus returns status register.
func (mf *MemFlash) ReadStatus() (flash.Status, error) {
	var s flash.Status
	if mf.writeEnabled {
		s |= flash.StatusWriteEnabled
	}
	if mf.stuckBusy {
		return s | flash.StatusBusy, nil
	}
	if mf.busy > 0 {
		mf.busy--
		s |= flash.StatusBusy
	}
	return s, nil
}

// ProgramPage programs bytes within one page. Bytes crossing the page boundary wrap to its beginning.
func (mf *MemFlash) ProgramPage(addr uint32, p []byte) error {
	if !mf.writeEnabled {
		return nil
	}
	mf.writeEnabled = false
	mf.programs++
	mf.busy = mf.busyCycles

	if _, exists := mf.protected[addr/flash.SectorSize]; exists {
		return nil
	}

	page := addr &^ (flash.PageSize - 1)
	if uint64(page)+flash.PageSize > uint64(len(mf.data)) {
		return errors.Errorf("page at 0x%x is out of range", page)
	}
	offset := addr - page
	for i, b := range p {
		mf.data[page+(offset+uint32(i))%flash.PageSize] &= b
	}
	return nil
}

// EraseSector sets all the bytes of the sector containing addr to 0xFF.
func (mf *MemFlash) EraseSector(addr uint32) error {
	if !mf.writeEnabled {
		return nil
	}
	mf.writeEnabled = false
	mf.erases++
	mf.busy = mf.busyCycles

	if _, exists := mf.protected[addr/flash.SectorSize]; exists {
		return nil
	}

	sector := addr &^ (flash.SectorSize - 1)
	if uint64(sector)+flash.SectorSize > uint64(len(mf.data)) {
		return errors.Errorf("sector at 0x%x is out of range", sector)
	}
	for i := sector; i < sector+flash.SectorSize; i++ {
		mf.data[i] = 0xff
	}
	return nil
}

// Protect makes the chip silently ignore program and erase commands for the sector containing addr.
func (mf *MemFlash) Protect(addr uint32) {
	mf.protected[addr/flash.SectorSize] = struct{}{}
}

// Unprotect reverts Protect.
func (mf *MemFlash) Unprotect(addr uint32) {
	delete(mf.protected, addr/flash.SectorSize)
}

// SetWriteLocked makes the chip refuse to set the write enable latch.
func (mf *MemFlash) SetWriteLocked(locked bool) {
	mf.writeLocked = locked
}

// SetStuckBusy makes the chip report busy forever.
func (mf *MemFlash) SetStuckBusy(stuck bool) {
	mf.stuckBusy = stuck
}

// Erases returns the number of executed sector erases.
func (mf *MemFlash) Erases() int {
	return mf.erases
}

// Programs returns the number of executed page programs.
func (mf *MemFlash) Programs() int {
	return mf.programs
}

// ResetCounters zeroes operation counters.
func (mf *MemFlash) ResetCounters() {
	mf.erases = 0
	mf.programs = 0
}

// Bytes returns the raw content of the chip.
func (mf *MemFlash) Bytes() []byte {
	return mf.data
}
