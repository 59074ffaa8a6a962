package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/brfs/flash"
	"github.com/outofforest/brfs/pkg/memflash"
)

const size = 2 * 1024 * 1024 // 2MiB

func newStore(requireT *require.Assertions) (*Store, *memflash.MemFlash) {
	chip := memflash.New(size)
	s, err := NewStore(flash.New(chip, 0))
	requireT.NoError(err)
	return s, chip
}

func TestTooSmall(t *testing.T) {
	requireT := require.New(t)

	_, err := NewStore(flash.New(memflash.New(DataAddr), 0))
	requireT.Error(err)

	s, err := NewStore(flash.New(memflash.New(DataAddr+flash.SectorSize), 0))
	requireT.NoError(err)
	requireT.Equal(flash.WordsPerSector, s.DataCapacity())
}

func TestSuperblock(t *testing.T) {
	requireT := require.New(t)

	s, chip := newStore(requireT)

	sb := []uint32{64, 128, 'F', 'P', 'G', 'C', 0, 0, 0, 0, 0, 0, 1, 0, 0, 0}
	requireT.NoError(s.WriteSuperblock(sb))
	requireT.Equal(1, chip.Erases())
	requireT.Equal(1, chip.Programs())

	read := make([]uint32, len(sb))
	requireT.NoError(s.ReadSuperblock(read))
	requireT.Equal(sb, read)

	// Words are stored most significant byte first.
	requireT.Equal([]byte{0, 0, 0, 64}, chip.Bytes()[SuperblockAddr:SuperblockAddr+4])

	requireT.Error(s.WriteSuperblock(make([]uint32, flash.WordsPerPage+1)))
}

func TestFATSector(t *testing.T) {
	requireT := require.New(t)

	s, chip := newStore(requireT)

	fat := make([]uint32, 2*FATEntriesPerSector)
	for i := range fat {
		fat[i] = uint32(i)
	}

	requireT.NoError(s.WriteFATSector(0, fat[:FATEntriesPerSector]))
	requireT.NoError(s.WriteFATSector(1, fat[FATEntriesPerSector:]))
	requireT.Equal(2, chip.Erases())
	requireT.Equal(2*flash.PagesPerSector, chip.Programs())

	read := make([]uint32, len(fat))
	requireT.NoError(s.ReadFAT(read))
	requireT.Equal(fat, read)

	requireT.Error(s.WriteFATSector(MaxFATEntries/FATEntriesPerSector, fat[:1]))
	requireT.Error(s.ReadFAT(make([]uint32, MaxFATEntries+1)))
}

func TestDataSector(t *testing.T) {
	requireT := require.New(t)

	s, _ := newStore(requireT)

	words := make([]uint32, flash.WordsPerSector)
	for i := range words {
		words[i] = 0xa5a50000 | uint32(i)
	}
	requireT.NoError(s.WriteDataSector(3, words))

	read := make([]uint32, 10)
	requireT.NoError(s.ReadData(3*flash.WordsPerSector+5, read))
	requireT.Equal(words[5:15], read)

	requireT.Error(s.WriteDataSector(s.DataCapacity()/flash.WordsPerSector, words))
	requireT.Error(s.ReadData(s.DataCapacity()-1, read))
	requireT.Error(s.WriteDataSector(0, make([]uint32, flash.WordsPerSector+1)))
}

func TestPartialSector(t *testing.T) {
	requireT := require.New(t)

	s, chip := newStore(requireT)

	words := make([]uint32, 100)
	for i := range words {
		words[i] = uint32(i + 1)
	}
	requireT.NoError(s.WriteDataSector(0, words))
	requireT.Equal(2, chip.Programs())

	read := make([]uint32, 101)
	requireT.NoError(s.ReadData(0, read))
	requireT.Equal(words, read[:100])
	requireT.EqualValues(0xffffffff, read[100])
}

func TestVerifyFailed(t *testing.T) {
	requireT := require.New(t)

	s, chip := newStore(requireT)

	chip.Protect(DataAddr)
	requireT.ErrorIs(s.WriteDataSector(0, []uint32{1, 2, 3}), ErrVerifyFailed)

	chip.Unprotect(DataAddr)
	requireT.NoError(s.WriteDataSector(0, []uint32{1, 2, 3}))
}

func TestWriteDisabled(t *testing.T) {
	requireT := require.New(t)

	s, chip := newStore(requireT)

	chip.SetWriteLocked(true)
	requireT.ErrorIs(s.WriteSuperblock([]uint32{1}), flash.ErrWriteDisabled)
}
