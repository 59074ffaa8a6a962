package volume

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(n int, start uint32) []uint32 {
	words := make([]uint32, n)
	for i := range words {
		words[i] = start + uint32(i)
	}
	return words
}

func newFile(requireT *require.Assertions, v *Volume, path string) Handle {
	requireT.NoError(v.Mkfile("/", path[1:]))
	h, err := v.Open(path)
	requireT.NoError(err)
	return h
}

func TestWriteRead(t *testing.T) {
	requireT := require.New(t)
	assertT := assert.New(t)

	v, _ := newFormatted(requireT, 64, 128)
	h := newFile(requireT, v, "/a.txt")
	requireT.NotEqual(InvalidHandle, h)

	n, err := v.Write(h, []uint32{1, 2, 3, 4, 5})
	requireT.NoError(err)
	assertT.Equal(5, n)

	cursor, err := v.Cursor(h)
	requireT.NoError(err)
	assertT.EqualValues(5, cursor)

	entry, err := v.Stat("/a.txt")
	requireT.NoError(err)
	assertT.EqualValues(5, entry.Filesize)

	requireT.NoError(v.SetCursor(h, 0))
	buf := make([]uint32, 5)
	n, err = v.Read(h, buf)
	requireT.NoError(err)
	assertT.Equal(5, n)
	assertT.Equal([]uint32{1, 2, 3, 4, 5}, buf)

	n, err = v.Read(h, buf)
	requireT.NoError(err)
	assertT.Zero(n)
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []int{1, 31, 32, 33, 64, 70, 500} {
		t.Run(fmt.Sprintf("%d", size), func(t *testing.T) {
			requireT := require.New(t)

			v, _ := newFormatted(requireT, 64, 32)
			h := newFile(requireT, v, "/f")

			data := sequence(size, 100)
			n, err := v.Write(h, data)
			requireT.NoError(err)
			requireT.Equal(size, n)

			requireT.NoError(v.SetCursor(h, 0))
			buf := make([]uint32, size)
			n, err = v.Read(h, buf)
			requireT.NoError(err)
			requireT.Equal(size, n)
			requireT.Equal(data, buf)

			entry, err := v.Stat("/f")
			requireT.NoError(err)
			chain, err := v.Chain(entry.FATIndex)
			requireT.NoError(err)
			requireT.Len(chain, (size+31)/32)
			requireT.NoError(v.Check())
		})
	}
}

func TestWriteAllocatesChain(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 32)
	h := newFile(requireT, v, "/f")

	n, err := v.Write(h, sequence(70, 1))
	requireT.NoError(err)
	requireT.Equal(70, n)

	chain, err := v.Chain(uint32(h))
	requireT.NoError(err)
	requireT.Equal([]uint32{1, 2, 3}, chain)
	requireT.Equal(EndOfChain, v.fat[chain[2]])
}

func TestWriteAtBlockBoundary(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 32)
	h := newFile(requireT, v, "/f")

	_, err := v.Write(h, sequence(32, 0))
	requireT.NoError(err)
	chain, err := v.Chain(uint32(h))
	requireT.NoError(err)
	requireT.Len(chain, 1)

	_, err = v.Write(h, []uint32{32})
	requireT.NoError(err)
	chain, err = v.Chain(uint32(h))
	requireT.NoError(err)
	requireT.Len(chain, 2)

	requireT.NoError(v.SetCursor(h, 0))
	buf := make([]uint32, 40)
	n, err := v.Read(h, buf)
	requireT.NoError(err)
	requireT.Equal(33, n)
	requireT.Equal(sequence(33, 0), buf[:n])
}

func TestOverwrite(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 32)
	h := newFile(requireT, v, "/f")

	_, err := v.Write(h, sequence(70, 0))
	requireT.NoError(err)

	requireT.NoError(v.SetCursor(h, 30))
	_, err = v.Write(h, []uint32{1000, 1001, 1002, 1003, 1004})
	requireT.NoError(err)

	entry, err := v.Stat("/f")
	requireT.NoError(err)
	requireT.EqualValues(70, entry.Filesize)

	chain, err := v.Chain(uint32(h))
	requireT.NoError(err)
	requireT.Len(chain, 3)

	expected := sequence(70, 0)
	copy(expected[30:], []uint32{1000, 1001, 1002, 1003, 1004})

	requireT.NoError(v.SetCursor(h, 0))
	buf := make([]uint32, 70)
	_, err = v.Read(h, buf)
	requireT.NoError(err)
	requireT.Equal(expected, buf)

	requireT.NoError(v.SetCursor(h, 68))
	_, err = v.Write(h, []uint32{2000, 2001, 2002})
	requireT.NoError(err)
	entry, err = v.Stat("/f")
	requireT.NoError(err)
	requireT.EqualValues(71, entry.Filesize)
}

func TestReadClamped(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 32)
	h := newFile(requireT, v, "/f")

	_, err := v.Write(h, sequence(40, 1))
	requireT.NoError(err)

	requireT.NoError(v.SetCursor(h, 35))
	buf := make([]uint32, 100)
	n, err := v.Read(h, buf)
	requireT.NoError(err)
	requireT.Equal(5, n)
	requireT.Equal(sequence(5, 36), buf[:n])

	cursor, err := v.Cursor(h)
	requireT.NoError(err)
	requireT.EqualValues(40, cursor)

	n, err = v.Read(h, nil)
	requireT.NoError(err)
	requireT.Zero(n)
}

func TestSetCursor(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 32)
	h := newFile(requireT, v, "/f")

	_, err := v.Write(h, sequence(10, 1))
	requireT.NoError(err)

	requireT.NoError(v.SetCursor(h, 3))
	cursor, err := v.Cursor(h)
	requireT.NoError(err)
	requireT.EqualValues(3, cursor)

	requireT.NoError(v.SetCursor(h, 11))
	cursor, err = v.Cursor(h)
	requireT.NoError(err)
	requireT.EqualValues(10, cursor)

	requireT.NoError(v.SetCursor(h, 0))
	requireT.NoError(v.SetCursor(h, -1))
	cursor, err = v.Cursor(h)
	requireT.NoError(err)
	requireT.EqualValues(10, cursor)

	requireT.ErrorIs(v.SetCursor(h+1, 0), ErrNotOpen)
}

func TestWriteNoFreeBlocks(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 32)
	h := newFile(requireT, v, "/f")

	n, err := v.Write(h, sequence(2100, 0))
	requireT.ErrorIs(err, ErrNoFreeBlocks)
	requireT.Equal(63*32, n)

	entry, err := v.Stat("/f")
	requireT.NoError(err)
	requireT.EqualValues(63*32, entry.Filesize)

	usage, err := v.Usage()
	requireT.NoError(err)
	requireT.Zero(usage.FreeBlocks())

	requireT.ErrorIs(v.Mkfile("/", "g"), ErrNoFreeBlocks)

	n, err = v.Write(h, []uint32{1})
	requireT.ErrorIs(err, ErrNoFreeBlocks)
	requireT.Zero(n)

	requireT.NoError(v.SetCursor(h, 0))
	buf := make([]uint32, 63*32)
	n, err = v.Read(h, buf)
	requireT.NoError(err)
	requireT.Equal(63*32, n)
	requireT.Equal(sequence(63*32, 0), buf)
	requireT.NoError(v.Check())
}

func TestOpenExclusive(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 128)
	h := newFile(requireT, v, "/f")

	_, err := v.Write(h, sequence(3, 0))
	requireT.NoError(err)

	_, err = v.Open("/f")
	requireT.ErrorIs(err, ErrAlreadyOpen)

	cursor, err := v.Cursor(h)
	requireT.NoError(err)
	requireT.EqualValues(3, cursor)

	requireT.NoError(v.Close(h))
	h2, err := v.Open("/f")
	requireT.NoError(err)
	requireT.Equal(h, h2)

	cursor, err = v.Cursor(h2)
	requireT.NoError(err)
	requireT.Zero(cursor)
}

func TestOpenErrors(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 128)
	requireT.NoError(v.Mkdir("/", "dir"))

	_, err := v.Open("/missing")
	requireT.ErrorIs(err, ErrPathNotFound)
	_, err = v.Open("/dir")
	requireT.ErrorIs(err, ErrPathNotFound)
	_, err = v.Open("/")
	requireT.ErrorIs(err, ErrPathNotFound)
	_, err = v.Open("/dir/..")
	requireT.ErrorIs(err, ErrPathNotFound)
}

func TestTooManyOpenFiles(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 512)

	handles := make([]Handle, 0, MaxOpenFiles)
	for i := range MaxOpenFiles {
		handles = append(handles, newFile(requireT, v, fmt.Sprintf("/f%d", i)))
	}

	requireT.NoError(v.Mkfile("/", "extra"))
	_, err := v.Open("/extra")
	requireT.ErrorIs(err, ErrTooManyOpenFiles)

	requireT.NoError(v.Close(handles[0]))
	_, err = v.Open("/extra")
	requireT.NoError(err)
}

func TestClose(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 128)
	h := newFile(requireT, v, "/f")

	requireT.NoError(v.Close(h))
	requireT.ErrorIs(v.Close(h), ErrNotOpen)
	requireT.ErrorIs(v.Close(InvalidHandle), ErrNotOpen)

	_, err := v.Read(h, make([]uint32, 1))
	requireT.ErrorIs(err, ErrNotOpen)
	_, err = v.Write(h, []uint32{1})
	requireT.ErrorIs(err, ErrNotOpen)
	_, err = v.Cursor(h)
	requireT.ErrorIs(err, ErrNotOpen)
}

func TestFilesizeVisibleBeforeClose(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 64, 128)
	requireT.NoError(v.Mkdir("/", "dir"))
	requireT.NoError(v.Mkfile("/dir", "f"))
	h, err := v.Open("/dir/f")
	requireT.NoError(err)

	dir, err := v.Stat("/dir")
	requireT.NoError(err)
	requireT.NoError(v.Sync())

	_, err = v.Write(h, sequence(5, 0))
	requireT.NoError(err)

	entry, err := v.Stat("/dir/f")
	requireT.NoError(err)
	requireT.EqualValues(5, entry.Filesize)
	requireT.True(v.dirty.Test(uint(dir.FATIndex)))
	requireT.True(v.dirty.Test(uint(h)))
	requireT.EqualValues(2, v.dirty.Count())
}

func TestChainIntegrity(t *testing.T) {
	requireT := require.New(t)

	v, _ := newFormatted(requireT, 128, 64)
	requireT.NoError(v.Mkdir("/", "dir"))

	for round := range 5 {
		for i := range 6 {
			path := fmt.Sprintf("/dir/f%d", i)
			if round > 0 && (i+round)%3 == 0 {
				requireT.NoError(v.Delete(path))
			}
			if _, err := v.Stat(path); err != nil {
				requireT.NoError(v.Mkfile("/dir", path[5:]))
			}

			h, err := v.Open(path)
			requireT.NoError(err)
			_, err = v.Write(h, sequence((i+1)*(round+1)*7, uint32(i)))
			requireT.NoError(err)
			requireT.NoError(v.Close(h))
		}
		requireT.NoError(v.Check())
	}

	entries, err := v.List("/dir")
	requireT.NoError(err)
	seen := map[uint32]bool{}
	for _, e := range entries[2:] {
		chain, err := v.Chain(e.FATIndex)
		requireT.NoError(err)
		requireT.Equal(EndOfChain, v.fat[chain[len(chain)-1]])
		for _, block := range chain {
			requireT.False(seen[block])
			seen[block] = true
		}
	}
}
