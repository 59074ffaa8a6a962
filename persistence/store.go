package persistence

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/outofforest/brfs/flash"
)

// ErrVerifyFailed is returned if content read back from flash differs from the one just written.
var ErrVerifyFailed = errors.New("flash content does not match written data")

// Store represents the BRFS regions of the flash.
type Store struct {
	dev Dev
}

// NewStore returns the store operating on the device.
func NewStore(dev Dev) (*Store, error) {
	if dev.Size() <= DataAddr {
		return nil, errors.Errorf("device is too small, minimum size is: %d bytes, provided: %d", DataAddr+flash.SectorSize, dev.Size())
	}
	return &Store{
		dev: dev,
	}, nil
}

// DataCapacity returns the number of words fitting into the data region.
func (s *Store) DataCapacity() int {
	return int(s.dev.Size()-DataAddr) / flash.WordSize
}

// WriteSuperblock erases the superblock sector and stores the superblock there.
func (s *Store) WriteSuperblock(words []uint32) error {
	if len(words) > flash.WordsPerPage {
		return errors.Errorf("superblock must fit into one page, provided: %d words", len(words))
	}
	return errors.Wrap(s.writeSector(SuperblockAddr, words), "writing superblock")
}

// ReadSuperblock reads the superblock.
func (s *Store) ReadSuperblock(words []uint32) error {
	return s.read(SuperblockAddr, words)
}

// WriteFATSector rewrites the FAT sector with the entries.
func (s *Store) WriteFATSector(sector int, words []uint32) error {
	if (sector+1)*FATEntriesPerSector > MaxFATEntries {
		return errors.Errorf("FAT sector %d is out of range", sector)
	}
	return errors.Wrapf(s.writeSector(FATAddr+uint32(sector)*flash.SectorSize, words), "writing FAT sector %d", sector)
}

// ReadFAT reads FAT entries starting from the first one.
func (s *Store) ReadFAT(words []uint32) error {
	if len(words) > MaxFATEntries {
		return errors.Errorf("FAT region keeps at most %d entries, requested: %d", MaxFATEntries, len(words))
	}
	return s.read(FATAddr, words)
}

// WriteDataSector rewrites the data sector with the words.
func (s *Store) WriteDataSector(sector int, words []uint32) error {
	if (sector+1)*flash.WordsPerSector > s.DataCapacity() {
		return errors.Errorf("data sector %d is out of range", sector)
	}
	return errors.Wrapf(s.writeSector(DataAddr+uint32(sector)*flash.SectorSize, words), "writing data sector %d", sector)
}

// ReadData reads words of the data region starting from the word offset.
func (s *Store) ReadData(offset int, words []uint32) error {
	if offset < 0 || offset+len(words) > s.DataCapacity() {
		return errors.Errorf("read of %d words at offset %d exceeds data region", len(words), offset)
	}
	return s.read(DataAddr+uint32(offset)*flash.WordSize, words)
}

func (s *Store) writeSector(addr uint32, words []uint32) error {
	if len(words) > flash.WordsPerSector {
		return errors.Errorf("sector keeps at most %d words, provided: %d", flash.WordsPerSector, len(words))
	}

	p := make([]byte, len(words)*flash.WordSize)
	flash.EncodeWords(p, words)

	if err := s.dev.EraseSector(addr); err != nil {
		return err
	}
	for offset := 0; offset < len(p); offset += flash.PageSize {
		end := offset + flash.PageSize
		if end > len(p) {
			end = len(p)
		}
		if err := s.dev.WritePage(addr+uint32(offset), p[offset:end]); err != nil {
			return err
		}
	}

	return s.verify(addr, p)
}

func (s *Store) verify(addr uint32, expected []byte) error {
	written := make([]byte, len(expected))
	if err := s.dev.Read(addr, written); err != nil {
		return err
	}

	checksum := xxhash.Sum64(written)
	expectedChecksum := xxhash.Sum64(expected)
	if checksum != expectedChecksum {
		return errors.Wrapf(ErrVerifyFailed, "sector at 0x%x, computed: %016x, expected: %016x", addr, checksum, expectedChecksum)
	}
	return nil
}

func (s *Store) read(addr uint32, words []uint32) error {
	p := make([]byte, flash.SectorSize)
	for len(words) > 0 {
		n := len(words)
		if n > flash.WordsPerSector {
			n = flash.WordsPerSector
		}
		if err := s.dev.Read(addr, p[:n*flash.WordSize]); err != nil {
			return err
		}
		flash.DecodeWords(words[:n], p)

		words = words[n:]
		addr += uint32(n * flash.WordSize)
	}
	return nil
}
