package volume

import (
	"github.com/pkg/errors"
)

// Handle identifies the open file, it is the index of the first block of the file.
type Handle uint32

// InvalidHandle is never returned by Open, block 0 always keeps the root directory.
const InvalidHandle Handle = Handle(RootBlock)

// openFile references the directory entry by its block and slot, so the entry is always taken from the current image.
type openFile struct {
	fatIdx   uint32
	cursor   uint32
	dirBlock uint32
	dirSlot  int
}

// Open opens the file and returns its handle. The cursor is set to the beginning of the file.
func (v *Volume) Open(path string) (Handle, error) {
	h, err := v.open(path)
	return h, v.diag(err)
}

// Close closes the file.
func (v *Volume) Close(h Handle) error {
	f, err := v.file(h)
	if err != nil {
		return v.diag(err)
	}
	*f = openFile{}
	return nil
}

// Cursor returns the position of the cursor in the open file.
func (v *Volume) Cursor(h Handle) (uint32, error) {
	f, err := v.file(h)
	if err != nil {
		return 0, v.diag(err)
	}
	return f.cursor, nil
}

// SetCursor moves the cursor of the open file. Positions outside the file move the cursor to its end.
func (v *Volume) SetCursor(h Handle, pos int) error {
	f, err := v.file(h)
	if err != nil {
		return v.diag(err)
	}

	size := v.filesize(f)
	if pos < 0 || uint64(pos) > uint64(size) {
		f.cursor = size
		return nil
	}
	f.cursor = uint32(pos)
	return nil
}

// Read reads words from the cursor position into p. It returns the number of words read,
// which is lower than len(p) if the end of file is reached.
func (v *Volume) Read(h Handle, p []uint32) (int, error) {
	n, err := v.read(h, p)
	return n, v.diag(err)
}

// Write writes p at the cursor position, extending the file if needed. If the volume runs out of blocks
// the words written so far stay in the file and ErrNoFreeBlocks is returned together with their count.
func (v *Volume) Write(h Handle, p []uint32) (int, error) {
	n, err := v.write(h, p)
	return n, v.diag(err)
}

func (v *Volume) open(path string) (Handle, error) {
	if err := v.checkFormatted(); err != nil {
		return InvalidHandle, err
	}
	segments, err := splitPath(path)
	if err != nil {
		return InvalidHandle, err
	}
	if len(segments) == 0 {
		return InvalidHandle, errors.Wrap(ErrPathNotFound, "root is a directory")
	}
	parent, slot, entry, err := v.find(segments)
	if err != nil {
		return InvalidHandle, err
	}
	if entry.IsDir() {
		return InvalidHandle, errors.Wrapf(ErrPathNotFound, "%q is a directory", path)
	}
	if v.isOpen(entry.FATIndex) {
		return InvalidHandle, errors.Wrapf(ErrAlreadyOpen, "file %q", path)
	}

	for i := range v.files {
		f := &v.files[i]
		if f.fatIdx != uint32(InvalidHandle) {
			continue
		}
		*f = openFile{
			fatIdx:   entry.FATIndex,
			dirBlock: parent,
			dirSlot:  slot,
		}
		return Handle(entry.FATIndex), nil
	}
	return InvalidHandle, errors.Wrapf(ErrTooManyOpenFiles, "limit is %d", MaxOpenFiles)
}

func (v *Volume) read(h Handle, p []uint32) (int, error) {
	f, err := v.file(h)
	if err != nil {
		return 0, err
	}

	size := v.filesize(f)
	if f.cursor >= size || len(p) == 0 {
		return 0, nil
	}
	if left := size - f.cursor; uint64(len(p)) > uint64(left) {
		p = p[:left]
	}

	block, err := v.translateCursor(f, false)
	if err != nil {
		return 0, err
	}

	var n int
	for {
		c := copy(p[n:], v.block(block)[f.cursor%v.sb.WordsPerBlock:])
		n += c
		f.cursor += uint32(c)

		if n == len(p) {
			return n, nil
		}

		block, err = v.next(block)
		if err != nil {
			return n, err
		}
		if block == EndOfChain {
			return n, errors.Wrapf(ErrCursorOutOfBounds, "chain of file %d ends before its size", f.fatIdx)
		}
	}
}

func (v *Volume) write(h Handle, p []uint32) (int, error) {
	f, err := v.file(h)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	block, err := v.translateCursor(f, true)
	if err != nil {
		return 0, err
	}

	var n int
	for {
		c := copy(v.block(block)[f.cursor%v.sb.WordsPerBlock:], p[n:])
		v.markDirty(block)
		n += c
		f.cursor += uint32(c)

		if n == len(p) {
			break
		}

		if block, err = v.nextOrAllocate(block); err != nil {
			break
		}
	}

	if f.cursor > v.filesize(f) {
		v.slot(f.dirBlock, f.dirSlot)[entryFilesize] = f.cursor
		v.markDirty(f.dirBlock)
	}
	return n, err
}

// translateCursor returns the block containing the cursor of the file. The cursor placed just after the last block
// is translated to the new block appended to the chain if grow is true.
func (v *Volume) translateCursor(f *openFile, grow bool) (uint32, error) {
	block := f.fatIdx
	for range f.cursor / v.sb.WordsPerBlock {
		var err error
		if grow {
			block, err = v.nextOrAllocate(block)
		} else {
			block, err = v.next(block)
			if err == nil && block == EndOfChain {
				err = errors.Wrapf(ErrCursorOutOfBounds, "cursor %d of file %d", f.cursor, f.fatIdx)
			}
		}
		if err != nil {
			return 0, err
		}
	}
	return block, nil
}

func (v *Volume) nextOrAllocate(block uint32) (uint32, error) {
	next, err := v.next(block)
	if err != nil {
		return 0, err
	}
	if next == EndOfChain {
		return v.allocateAndLink(block)
	}
	return next, nil
}

func (v *Volume) file(h Handle) (*openFile, error) {
	if err := v.checkFormatted(); err != nil {
		return nil, err
	}
	if h != InvalidHandle {
		for i := range v.files {
			if v.files[i].fatIdx == uint32(h) {
				return &v.files[i], nil
			}
		}
	}
	return nil, errors.Wrapf(ErrNotOpen, "handle %d", h)
}

func (v *Volume) filesize(f *openFile) uint32 {
	return v.slot(f.dirBlock, f.dirSlot)[entryFilesize]
}

func (v *Volume) isOpen(fatIdx uint32) bool {
	for _, f := range v.files {
		if f.fatIdx != uint32(InvalidHandle) && f.fatIdx == fatIdx {
			return true
		}
	}
	return false
}

func (v *Volume) closeAll() {
	v.files = [MaxOpenFiles]openFile{}
}
