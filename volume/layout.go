package volume

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/brfs/persistence"
)

const (
	// SupportedVersion is the only version of the on-flash format understood by this implementation.
	SupportedVersion = 1

	// SuperblockWords is the size of the superblock in words.
	SuperblockWords = 16

	// LabelWords is the maximum length of the label, each character takes one word.
	LabelWords = 10

	// DirEntryWords is the size of the directory entry in words.
	DirEntryWords = 8

	// NameWords is the number of words keeping the packed name, 4 characters per word.
	NameWords = 4

	// MaxNameLength is the maximum length of the file or directory name.
	// One byte of the packed name must stay zero to terminate it.
	MaxNameLength = NameWords*4 - 1

	// MaxPathLength is the maximum length of the path accepted by the volume.
	MaxPathLength = 127

	// MaxBlocks is the maximum number of blocks, limited by the size of the FAT region.
	MaxBlocks = uint32(persistence.MaxFATEntries)

	// BlockCountAlignment is the number the block count must be a multiple of.
	BlockCountAlignment = 64

	// MaxWordsPerBlock is the maximum size of the block.
	MaxWordsPerBlock = 2048

	// MinWordsPerBlock is the minimum size of the block, directory block must keep "." and "..".
	MinWordsPerBlock = 2 * DirEntryWords

	// RootBlock is the block of the root directory.
	RootBlock uint32 = 0

	// FreeBlock marks unallocated block in FAT.
	FreeBlock uint32 = 0

	// EndOfChain marks the last block of the chain in FAT.
	EndOfChain uint32 = 0xffffffff
)

// Offsets of the fields inside the directory entry.
const (
	entryModifyDate = NameWords + iota
	entryFlags
	entryFATIndex
	entryFilesize
)

// Flags is the bitfield stored in the directory entry.
type Flags uint32

// Entry flags.
const (
	FlagDirectory Flags = 1 << iota
	FlagHidden
)

// Superblock describes the geometry of the volume.
type Superblock struct {
	TotalBlocks   uint32
	WordsPerBlock uint32
	Label         string
	Version       uint32
}

func (sb Superblock) encode(words []uint32) {
	clear(words[:SuperblockWords])
	words[0] = sb.TotalBlocks
	words[1] = sb.WordsPerBlock
	for i := 0; i < len(sb.Label) && i < LabelWords; i++ {
		words[2+i] = uint32(sb.Label[i])
	}
	words[2+LabelWords] = sb.Version
}

func decodeSuperblock(words []uint32) Superblock {
	var label strings.Builder
	for _, c := range words[2 : 2+LabelWords] {
		if c == 0 {
			break
		}
		label.WriteByte(byte(c))
	}
	return Superblock{
		TotalBlocks:   words[0],
		WordsPerBlock: words[1],
		Label:         label.String(),
		Version:       words[2+LabelWords],
	}
}

func (sb Superblock) validate() error {
	if sb.Version != SupportedVersion {
		return errors.Wrapf(ErrInvalidSuperblock, "version %d is not supported by this implementation (%d)",
			sb.Version, SupportedVersion)
	}
	if sb.TotalBlocks == 0 || sb.TotalBlocks%BlockCountAlignment != 0 || sb.TotalBlocks > MaxBlocks {
		return errors.Wrapf(ErrInvalidSuperblock, "total blocks should be > 0, <= %d and a multiple of %d, got %d",
			MaxBlocks, BlockCountAlignment, sb.TotalBlocks)
	}
	if sb.WordsPerBlock < MinWordsPerBlock || sb.WordsPerBlock > MaxWordsPerBlock {
		return errors.Wrapf(ErrInvalidSuperblock, "words per block should be >= %d and <= %d, got %d",
			MinWordsPerBlock, MaxWordsPerBlock, sb.WordsPerBlock)
	}
	return nil
}

// DirEntry is the decoded directory entry.
type DirEntry struct {
	Name       string
	ModifyDate uint32
	Flags      Flags
	FATIndex   uint32
	// Filesize is the size of the file in words. For directories it keeps the slot capacity of the directory block.
	Filesize uint32
}

// IsDir reports if entry is a directory.
func (e DirEntry) IsDir() bool {
	return e.Flags&FlagDirectory != 0
}

// IsHidden reports if entry is hidden.
func (e DirEntry) IsHidden() bool {
	return e.Flags&FlagHidden != 0
}

func (e DirEntry) encode(words []uint32) {
	clear(words[:DirEntryWords])
	compressName(words[:NameWords], e.Name)
	words[entryModifyDate] = e.ModifyDate
	words[entryFlags] = uint32(e.Flags)
	words[entryFATIndex] = e.FATIndex
	words[entryFilesize] = e.Filesize
}

func decodeDirEntry(words []uint32) DirEntry {
	return DirEntry{
		Name:       decompressName(words[:NameWords]),
		ModifyDate: words[entryModifyDate],
		Flags:      Flags(words[entryFlags]),
		FATIndex:   words[entryFATIndex],
		Filesize:   words[entryFilesize],
	}
}

// slotUsed reports if directory slot is occupied, a slot is free when the first word of its name is zero.
func slotUsed(words []uint32) bool {
	return words[0] != 0
}

// compressName packs 4 characters into each word, first character in the least significant byte.
func compressName(words []uint32, name string) {
	for i := 0; i < len(name) && i < NameWords*4; i++ {
		words[i/4] |= uint32(name[i]) << (8 * (i % 4))
	}
}

func decompressName(words []uint32) string {
	var name strings.Builder
	for i := 0; i < NameWords*4; i++ {
		c := byte(words[i/4] >> (8 * (i % 4)))
		if c == 0 {
			break
		}
		name.WriteByte(c)
	}
	return name.String()
}
