package volume

import (
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/outofforest/brfs/flash"
	"github.com/outofforest/brfs/persistence"
)

// Sync writes blocks modified since the last successful sync to the flash.
// Dirty flag of the block is cleared only if its FAT sector and all its data sectors were written and verified,
// so after a failure Sync may be called again to write the rest.
func (v *Volume) Sync() error {
	if err := v.checkFormatted(); err != nil {
		return v.diag(err)
	}
	if v.dirty.None() && !v.superblockDirty {
		return nil
	}

	var err error
	if v.superblockDirty {
		err = multierr.Append(err, v.writeSuperblock())
	}

	failedFAT, fatErr := v.syncFAT()
	failedData, dataErr := v.syncData()
	err = multierr.Append(err, multierr.Append(fatErr, dataErr))

	for block, ok := v.dirty.NextSet(0); ok; block, ok = v.dirty.NextSet(block + 1) {
		if failedFAT[int(block)/persistence.FATEntriesPerSector] {
			continue
		}
		first, last := v.blockSectors(uint32(block))
		if slices.ContainsFunc(failedData, func(sector int) bool { return sector >= first && sector <= last }) {
			continue
		}
		v.dirty.Clear(block)
	}

	if err != nil {
		v.log.Warn("Sync incomplete", zap.Uint("dirtyBlocks", v.dirty.Count()))
	}
	return v.diag(err)
}

// syncFAT rewrites every FAT sector containing an entry of dirty block.
func (v *Volume) syncFAT() (map[int]bool, error) {
	failed := map[int]bool{}
	var err error
	for lo := 0; lo < len(v.fat); lo += persistence.FATEntriesPerSector {
		hi := min(lo+persistence.FATEntriesPerSector, len(v.fat))
		if block, ok := v.dirty.NextSet(uint(lo)); !ok || block >= uint(hi) {
			continue
		}

		sector := lo / persistence.FATEntriesPerSector
		v.log.Debug("Writing FAT sector", zap.Int("sector", sector))
		if sErr := v.store.WriteFATSector(sector, v.fat[lo:hi]); sErr != nil {
			failed[sector] = true
			err = multierr.Append(err, sErr)
		}
	}
	return failed, err
}

// syncData rewrites every data sector containing a dirty block. Blocks are processed in index order so sectors
// come in ascending order and each of them is erased at most once. It returns the sectors which failed.
func (v *Volume) syncData() ([]int, error) {
	var failed []int
	var err error

	pending := -1
	flush := func() {
		if pending < 0 {
			return
		}
		lo := pending * flash.WordsPerSector
		hi := min(lo+flash.WordsPerSector, len(v.data))

		v.log.Debug("Writing data sector", zap.Int("sector", pending))
		if sErr := v.store.WriteDataSector(pending, v.data[lo:hi]); sErr != nil {
			failed = append(failed, pending)
			err = multierr.Append(err, sErr)
		}
	}

	for block, ok := v.dirty.NextSet(0); ok; block, ok = v.dirty.NextSet(block + 1) {
		first, last := v.blockSectors(uint32(block))
		for sector := max(first, pending); sector <= last; sector++ {
			if sector == pending {
				continue
			}
			flush()
			pending = sector
		}
	}
	flush()

	return failed, err
}

// blockSectors returns the first and the last data sector occupied by the block.
func (v *Volume) blockSectors(block uint32) (int, int) {
	offset := int(block) * v.wordsPerBlock()
	return offset / flash.WordsPerSector, (offset + v.wordsPerBlock() - 1) / flash.WordsPerSector
}

// Load reads the volume from the flash. Open files are closed and loaded volume is clean.
// If the superblock is invalid the volume stays unchanged.
func (v *Volume) Load() error {
	return v.diag(v.load())
}

func (v *Volume) load() error {
	sbWords := make([]uint32, SuperblockWords)
	if err := v.store.ReadSuperblock(sbWords); err != nil {
		return err
	}
	sb := decodeSuperblock(sbWords)
	if err := sb.validate(); err != nil {
		return err
	}
	if uint64(sb.TotalBlocks)*uint64(sb.WordsPerBlock) > uint64(v.store.DataCapacity()) {
		return errors.Wrapf(ErrInvalidSuperblock, "%d blocks of %d words do not fit into data region of %d words",
			sb.TotalBlocks, sb.WordsPerBlock, v.store.DataCapacity())
	}

	image := make([]uint32, SuperblockWords+int(sb.TotalBlocks)+int(sb.TotalBlocks)*int(sb.WordsPerBlock))
	copy(image, sbWords)
	fatEnd := SuperblockWords + int(sb.TotalBlocks)
	if err := v.store.ReadFAT(image[SuperblockWords:fatEnd]); err != nil {
		return err
	}
	if err := v.store.ReadData(0, image[fatEnd:]); err != nil {
		return err
	}

	v.image = image
	v.setGeometry(sb)
	v.dirty = bitset.New(uint(sb.TotalBlocks))
	v.superblockDirty = false
	v.closeAll()
	v.formatted = true

	v.log.Info("Volume loaded",
		zap.Uint32("blocks", sb.TotalBlocks),
		zap.Uint32("wordsPerBlock", sb.WordsPerBlock),
		zap.String("label", sb.Label))

	return nil
}

// BlockChanged reports if the block in RAM differs from its copy on the flash.
func (v *Volume) BlockChanged(idx uint32) (bool, error) {
	if err := v.checkFormatted(); err != nil {
		return false, v.diag(err)
	}
	if idx >= v.sb.TotalBlocks {
		return false, v.diag(errors.Wrapf(ErrInvalidBlock, "block %d, total blocks: %d", idx, v.sb.TotalBlocks))
	}

	stored := make([]uint32, v.wordsPerBlock())
	if err := v.store.ReadData(int(idx)*v.wordsPerBlock(), stored); err != nil {
		return false, v.diag(err)
	}
	return !slices.Equal(stored, v.block(idx)), nil
}
