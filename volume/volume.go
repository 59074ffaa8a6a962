package volume

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/brfs/persistence"
)

// Volume is the BRFS volume kept entirely in RAM and written back to flash on Sync.
// It must not be used concurrently.
type Volume struct {
	store *persistence.Store
	log   *zap.Logger

	formatted bool
	sb        Superblock

	// image is the RAM image of the volume: superblock, FAT and data region, views below point into it.
	image []uint32
	fat   []uint32
	data  []uint32

	dirty *bitset.BitSet
	// superblockDirty is set if superblock written by Format didn't reach the flash, Sync retries it.
	superblockDirty bool
	files [MaxOpenFiles]openFile
}

// New returns new volume using the store for persistence. Volume must be formatted or loaded before use.
func New(store *persistence.Store, log *zap.Logger) *Volume {
	if log == nil {
		log = zap.NewNop()
	}
	return &Volume{
		store: store,
		log:   log,
		dirty: bitset.New(0),
	}
}

// Superblock returns the superblock of the volume.
func (v *Volume) Superblock() (Superblock, error) {
	if err := v.checkFormatted(); err != nil {
		return Superblock{}, v.diag(err)
	}
	return v.sb, nil
}

// Format creates empty volume in RAM and writes its superblock to flash.
// Everything else reaches flash on the next Sync. If fullFormat is false the data region is not zeroed.
func (v *Volume) Format(blocks, wordsPerBlock uint32, label string, fullFormat bool) error {
	if err := v.validateGeometry(blocks, wordsPerBlock, label); err != nil {
		return v.diag(err)
	}

	sb := Superblock{
		TotalBlocks:   blocks,
		WordsPerBlock: wordsPerBlock,
		Label:         label,
		Version:       SupportedVersion,
	}

	imageSize := SuperblockWords + int(blocks) + int(blocks)*int(wordsPerBlock)
	if len(v.image) != imageSize || v.sb.WordsPerBlock != wordsPerBlock {
		v.image = make([]uint32, imageSize)
	}
	v.setGeometry(sb)
	sb.encode(v.image)
	clear(v.fat)
	if fullFormat {
		clear(v.data)
	}

	v.closeAll()
	v.dirty = bitset.New(uint(blocks))

	v.initDirectory(RootBlock, RootBlock)
	for i := uint(0); i < uint(blocks); i++ {
		v.dirty.Set(i)
	}
	v.formatted = true

	v.log.Info("Volume formatted",
		zap.Uint32("blocks", blocks),
		zap.Uint32("wordsPerBlock", wordsPerBlock),
		zap.String("label", label))

	v.superblockDirty = true
	return v.diag(v.writeSuperblock())
}

func (v *Volume) writeSuperblock() error {
	if err := v.store.WriteSuperblock(v.image[:SuperblockWords]); err != nil {
		return err
	}
	v.superblockDirty = false
	return nil
}

func (v *Volume) validateGeometry(blocks, wordsPerBlock uint32, label string) error {
	if blocks == 0 || blocks%BlockCountAlignment != 0 || blocks > MaxBlocks {
		return errors.Wrapf(ErrInvalidGeometry, "block count must be > 0, <= %d and a multiple of %d, got %d",
			MaxBlocks, BlockCountAlignment, blocks)
	}
	if wordsPerBlock < MinWordsPerBlock || wordsPerBlock > MaxWordsPerBlock {
		return errors.Wrapf(ErrInvalidGeometry, "words per block must be in range [%d, %d], got %d",
			MinWordsPerBlock, MaxWordsPerBlock, wordsPerBlock)
	}
	if uint64(blocks)*uint64(wordsPerBlock) > uint64(v.store.DataCapacity()) {
		return errors.Wrapf(ErrInvalidGeometry, "%d blocks of %d words do not fit into data region of %d words",
			blocks, wordsPerBlock, v.store.DataCapacity())
	}
	if len(label) > LabelWords {
		return errors.Wrapf(ErrInvalidGeometry, "label %q is longer than %d characters", label, LabelWords)
	}
	for i := 0; i < len(label); i++ {
		if label[i] == 0 {
			return errors.Wrapf(ErrInvalidGeometry, "label %q contains zero character", label)
		}
	}
	return nil
}

func (v *Volume) setGeometry(sb Superblock) {
	v.sb = sb
	fatEnd := SuperblockWords + int(sb.TotalBlocks)
	v.fat = v.image[SuperblockWords:fatEnd]
	v.data = v.image[fatEnd:]
}

// initDirectory zeroes the block and creates "." and ".." entries in it.
func (v *Volume) initDirectory(block, parent uint32) {
	clear(v.block(block))
	DirEntry{
		Name:     ".",
		Flags:    FlagDirectory,
		FATIndex: block,
		Filesize: v.dirCapacity(),
	}.encode(v.slot(block, 0))
	DirEntry{
		Name:     "..",
		Flags:    FlagDirectory,
		FATIndex: parent,
		Filesize: v.dirCapacity(),
	}.encode(v.slot(block, 1))

	v.fat[block] = EndOfChain
	v.markDirty(block)
}

func (v *Volume) wordsPerBlock() int {
	return int(v.sb.WordsPerBlock)
}

func (v *Volume) entriesPerBlock() int {
	return v.wordsPerBlock() / DirEntryWords
}

func (v *Volume) dirCapacity() uint32 {
	return uint32(v.entriesPerBlock() * DirEntryWords)
}

func (v *Volume) block(idx uint32) []uint32 {
	offset := int(idx) * v.wordsPerBlock()
	return v.data[offset : offset+v.wordsPerBlock()]
}

func (v *Volume) slot(block uint32, slot int) []uint32 {
	offset := slot * DirEntryWords
	return v.block(block)[offset : offset+DirEntryWords]
}

func (v *Volume) markDirty(idx uint32) {
	v.dirty.Set(uint(idx))
}

func (v *Volume) checkFormatted() error {
	if !v.formatted {
		return errors.WithStack(ErrNotFormatted)
	}
	return nil
}

// diag reports failed operation on the console before returning the error to the caller.
func (v *Volume) diag(err error) error {
	if err != nil {
		v.log.Warn("BRFS operation failed", zap.Error(err))
	}
	return err
}
