package persistence

import (
	"github.com/outofforest/brfs/flash"
)

// Addresses of the regions in flash. Each region starts at the sector boundary so erasing one never touches another.
const (
	// SuperblockAddr is the address of the sector keeping the superblock, one sector before FAT.
	SuperblockAddr uint32 = 0xDF000

	// FATAddr is the address of the FAT region.
	FATAddr uint32 = 0xE0000

	// DataAddr is the address of the data region, starting from the first MiB.
	DataAddr uint32 = 0x100000

	// MaxFATEntries is the number of FAT entries fitting between FAT and data regions.
	MaxFATEntries = int(DataAddr-FATAddr) / flash.WordSize

	// FATEntriesPerSector is the number of FAT entries rewritten together.
	FATEntriesPerSector = flash.WordsPerSector
)

// Dev is the interface required from the flash device.
type Dev interface {
	Read(addr uint32, p []byte) error
	WritePage(addr uint32, p []byte) error
	EraseSector(addr uint32) error
	Size() uint32
}
