package flash

import (
	"github.com/pkg/errors"
)

const (
	// SectorSize is the size of the smallest erasable unit of the flash in bytes.
	SectorSize = 4096

	// PageSize is the size of the largest programmable unit of the flash in bytes.
	PageSize = 256

	// WordSize is the size of the machine word in bytes.
	WordSize = 4

	// WordsPerPage is the number of words fitting into one page.
	WordsPerPage = PageSize / WordSize

	// WordsPerSector is the number of words fitting into one sector.
	WordsPerSector = SectorSize / WordSize

	// PagesPerSector is the number of pages in one sector.
	PagesPerSector = SectorSize / PageSize

	// W25Q128Size is the capacity of the W25Q128 part in bytes.
	W25Q128Size = 16 * 1024 * 1024

	// DefaultMaxBusyPolls is the number of status reads after which busy chip is reported as hung.
	DefaultMaxBusyPolls = 1 << 20
)

// Status is the content of status register 1.
type Status byte

// Status register bits.
const (
	StatusBusy         Status = 0x01
	StatusWriteEnabled Status = 0x02
)

// Busy reports if program or erase operation is in progress.
func (s Status) Busy() bool {
	return s&StatusBusy != 0
}

// WriteEnabled reports if write enable latch is set.
func (s Status) WriteEnabled() bool {
	return s&StatusWriteEnabled != 0
}

var (
	// ErrWriteDisabled is returned if chip refused to set the write enable latch.
	ErrWriteDisabled = errors.New("flash write enable latch is not set")

	// ErrBusyTimeout is returned if chip did not finish the operation in the configured number of polls.
	ErrBusyTimeout = errors.New("flash is still busy")
)

// Chip is the command level interface of a NOR flash part.
// Program and erase only start the operation, completion is reported by the busy bit of the status register.
type Chip interface {
	Read(addr uint32, p []byte) error
	WriteEnable() error
	ReadStatus() (Status, error)
	ProgramPage(addr uint32, p []byte) error
	EraseSector(addr uint32) error
	Size() uint32
}

// Device drives the chip the way flash expects: write enable, command, busy wait.
type Device struct {
	chip         Chip
	maxBusyPolls int
}

// New returns new flash device.
func New(chip Chip, maxBusyPolls int) *Device {
	if maxBusyPolls <= 0 {
		maxBusyPolls = DefaultMaxBusyPolls
	}
	return &Device{
		chip:         chip,
		maxBusyPolls: maxBusyPolls,
	}
}

// Size returns the capacity of the device in bytes.
func (d *Device) Size() uint32 {
	return d.chip.Size()
}

// Status returns current content of the status register.
func (d *Device) Status() (Status, error) {
	s, err := d.chip.ReadStatus()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return s, nil
}

// Read reads bytes starting at addr.
func (d *Device) Read(addr uint32, p []byte) error {
	if uint64(addr)+uint64(len(p)) > uint64(d.chip.Size()) {
		return errors.Errorf("read of %d bytes at 0x%x exceeds flash size 0x%x", len(p), addr, d.chip.Size())
	}
	return errors.WithStack(d.chip.Read(addr, p))
}

// WritePage programs up to one page of data. Address must be aligned to the page boundary.
func (d *Device) WritePage(addr uint32, p []byte) error {
	if len(p) > PageSize {
		return errors.Errorf("cannot write more than a page, requested: %d bytes", len(p))
	}
	if addr%PageSize != 0 {
		return errors.Errorf("address 0x%x is not aligned to a page boundary", addr)
	}
	if uint64(addr)+uint64(len(p)) > uint64(d.chip.Size()) {
		return errors.Errorf("page at 0x%x exceeds flash size 0x%x", addr, d.chip.Size())
	}

	if err := d.enableWrite(); err != nil {
		return errors.Wrapf(err, "programming page at 0x%x", addr)
	}
	if err := d.chip.ProgramPage(addr, p); err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(d.waitReady(), "programming page at 0x%x", addr)
}

// EraseSector erases the sector starting at addr. Address must be aligned to the sector boundary.
func (d *Device) EraseSector(addr uint32) error {
	if addr%SectorSize != 0 {
		return errors.Errorf("address 0x%x is not aligned to a sector boundary", addr)
	}
	if addr >= d.chip.Size() {
		return errors.Errorf("sector at 0x%x exceeds flash size 0x%x", addr, d.chip.Size())
	}

	if err := d.enableWrite(); err != nil {
		return errors.Wrapf(err, "erasing sector at 0x%x", addr)
	}
	if err := d.chip.EraseSector(addr); err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(d.waitReady(), "erasing sector at 0x%x", addr)
}

func (d *Device) enableWrite() error {
	if err := d.chip.WriteEnable(); err != nil {
		return errors.WithStack(err)
	}
	s, err := d.Status()
	if err != nil {
		return err
	}
	if !s.WriteEnabled() {
		return errors.WithStack(ErrWriteDisabled)
	}
	return nil
}

func (d *Device) waitReady() error {
	for i := 0; i < d.maxBusyPolls; i++ {
		s, err := d.Status()
		if err != nil {
			return err
		}
		if !s.Busy() {
			return nil
		}
	}
	return errors.WithStack(ErrBusyTimeout)
}
