package fileflash

import (
	"os"

	"github.com/pkg/errors"

	"github.com/outofforest/brfs/flash"
)

var _ flash.Chip = &FileFlash{}

// FileFlash uses image file as a NOR flash chip.
type FileFlash struct {
	file         *os.File
	size         uint32
	writeEnabled bool
}

// Create creates new image file of the given size with all the sectors erased.
func Create(path string, size uint32) (*FileFlash, error) {
	if size == 0 || size%flash.SectorSize != 0 {
		return nil, errors.Errorf("image size must be a positive multiple of %d bytes, provided: %d", flash.SectorSize, size)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	erased := erasedSector()
	for offset := int64(0); offset < int64(size); offset += flash.SectorSize {
		if _, err := file.WriteAt(erased, offset); err != nil {
			_ = file.Close()
			return nil, errors.WithStack(err)
		}
	}

	return &FileFlash{
		file: file,
		size: size,
	}, nil
}

// Open opens existing image file.
func Open(path string) (*FileFlash, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.WithStack(err)
	}
	if info.Size() == 0 || info.Size()%flash.SectorSize != 0 || info.Size() > 1<<32-flash.SectorSize {
		_ = file.Close()
		return nil, errors.Errorf("image %s has invalid size %d", path, info.Size())
	}

	return &FileFlash{
		file: file,
		size: uint32(info.Size()),
	}, nil
}

// Size returns the byte size of the image.
func (ff *FileFlash) Size() uint32 {
	return ff.size
}

// Read reads data from the image.
func (ff *FileFlash) Read(addr uint32, p []byte) error {
	if uint64(addr)+uint64(len(p)) > uint64(ff.size) {
		return errors.Errorf("read at 0x%x of %d bytes is out of range", addr, len(p))
	}
	_, err := ff.file.ReadAt(p, int64(addr))
	return errors.WithStack(err)
}

// WriteEnable sets the write enable latch.
func (ff *FileFlash) WriteEnable() error {
	ff.writeEnabled = true
	return nil
}

// ReadStatus returns the status register. File operations complete synchronously so the chip is never busy.
func (ff *FileFlash) ReadStatus() (flash.Status, error) {
	if ff.writeEnabled {
		return flash.StatusWriteEnabled, nil
	}
	return 0, nil
}

// ProgramPage programs bytes within one page, clearing bits only.
func (ff *FileFlash) ProgramPage(addr uint32, p []byte) error {
	if !ff.writeEnabled {
		return nil
	}
	ff.writeEnabled = false

	page := addr &^ (flash.PageSize - 1)
	if uint64(page)+flash.PageSize > uint64(ff.size) {
		return errors.Errorf("page at 0x%x is out of range", page)
	}

	buf := make([]byte, flash.PageSize)
	if _, err := ff.file.ReadAt(buf, int64(page)); err != nil {
		return errors.WithStack(err)
	}
	offset := addr - page
	for i, b := range p {
		buf[(offset+uint32(i))%flash.PageSize] &= b
	}
	_, err := ff.file.WriteAt(buf, int64(page))
	return errors.WithStack(err)
}

// EraseSector fills the sector containing addr with 0xFF.
func (ff *FileFlash) EraseSector(addr uint32) error {
	if !ff.writeEnabled {
		return nil
	}
	ff.writeEnabled = false

	sector := addr &^ (flash.SectorSize - 1)
	if uint64(sector)+flash.SectorSize > uint64(ff.size) {
		return errors.Errorf("sector at 0x%x is out of range", sector)
	}
	_, err := ff.file.WriteAt(erasedSector(), int64(sector))
	return errors.WithStack(err)
}

// Sync syncs data to the file.
func (ff *FileFlash) Sync() error {
	return errors.WithStack(ff.file.Sync())
}

// Close syncs and closes the image.
func (ff *FileFlash) Close() error {
	if err := ff.Sync(); err != nil {
		_ = ff.file.Close()
		return err
	}
	return errors.WithStack(ff.file.Close())
}

func erasedSector() []byte {
	b := make([]byte, flash.SectorSize)
	for i := range b {
		b[i] = 0xff
	}
	return b
}
