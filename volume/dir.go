package volume

import (
	"github.com/pkg/errors"
)

// Mkdir creates directory in the parent directory.
func (v *Volume) Mkdir(parentPath, name string) error {
	return v.diag(v.createEntry(parentPath, name, true))
}

// Mkfile creates empty file in the parent directory.
func (v *Volume) Mkfile(parentPath, name string) error {
	return v.diag(v.createEntry(parentPath, name, false))
}

// List returns all the entries of the directory, including "." and "..".
func (v *Volume) List(path string) ([]DirEntry, error) {
	entries, err := v.list(path)
	return entries, v.diag(err)
}

// Stat returns the entry of the file or directory.
func (v *Volume) Stat(path string) (DirEntry, error) {
	entry, err := v.stat(path)
	return entry, v.diag(err)
}

// Delete deletes the file or the empty directory.
func (v *Volume) Delete(path string) error {
	return v.diag(v.delete(path))
}

func (v *Volume) createEntry(parentPath, name string, isDir bool) error {
	if err := v.checkFormatted(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	segments, err := splitPath(parentPath)
	if err != nil {
		return err
	}
	parent, err := v.resolveDirectory(segments)
	if err != nil {
		return err
	}
	if _, exists := v.lookup(parent, name); exists {
		return errors.Wrapf(ErrAlreadyExists, "%q in %q", name, parentPath)
	}

	block, err := v.findFreeBlock()
	if err != nil {
		return err
	}
	slot, err := v.findFreeSlot(parent)
	if err != nil {
		return errors.Wrapf(err, "directory %q", parentPath)
	}

	entry := DirEntry{
		Name:     name,
		FATIndex: block,
	}
	if isDir {
		entry.Flags = FlagDirectory
		entry.Filesize = v.dirCapacity()
		v.initDirectory(block, parent)
	} else {
		clear(v.block(block))
		v.fat[block] = EndOfChain
		v.markDirty(block)
	}
	entry.encode(v.slot(parent, slot))
	v.markDirty(parent)

	return nil
}

func (v *Volume) list(path string) ([]DirEntry, error) {
	if err := v.checkFormatted(); err != nil {
		return nil, err
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	dir, err := v.resolveDirectory(segments)
	if err != nil {
		return nil, err
	}
	return v.entries(dir), nil
}

func (v *Volume) stat(path string) (DirEntry, error) {
	if err := v.checkFormatted(); err != nil {
		return DirEntry{}, err
	}
	segments, err := splitPath(path)
	if err != nil {
		return DirEntry{}, err
	}
	if len(segments) == 0 {
		root := decodeDirEntry(v.slot(RootBlock, 0))
		root.Name = separator
		return root, nil
	}

	_, _, entry, err := v.find(segments)
	return entry, err
}

func (v *Volume) delete(path string) error {
	if err := v.checkFormatted(); err != nil {
		return err
	}
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errors.Wrap(ErrInvalidPath, "root directory can't be deleted")
	}
	name := segments[len(segments)-1]
	if name == "." || name == ".." {
		return errors.Wrapf(ErrInvalidPath, "%q can't be deleted", path)
	}

	parent, slot, entry, err := v.find(segments)
	if err != nil {
		return err
	}
	if entry.IsDir() {
		if n := v.countEntries(entry.FATIndex); n > 2 {
			return errors.Wrapf(ErrDirectoryNotEmpty, "directory %q contains %d entries", path, n-2)
		}
	}
	if v.isOpen(entry.FATIndex) {
		return errors.Wrapf(ErrFileOpen, "file %q", path)
	}

	if err := v.freeChain(entry.FATIndex); err != nil {
		return err
	}
	clear(v.slot(parent, slot))
	v.markDirty(parent)

	return nil
}

// resolveDirectory walks the directory tree from the root and returns the block of the directory.
func (v *Volume) resolveDirectory(segments []string) (uint32, error) {
	dir := RootBlock
	for _, name := range segments {
		slot, exists := v.lookup(dir, name)
		if !exists {
			return 0, errors.Wrapf(ErrPathNotFound, "directory %q does not exist", name)
		}
		entry := decodeDirEntry(v.slot(dir, slot))
		if !entry.IsDir() {
			return 0, errors.Wrapf(ErrPathNotFound, "%q is not a directory", name)
		}
		if err := v.checkBlock(entry.FATIndex); err != nil {
			return 0, err
		}
		dir = entry.FATIndex
	}
	return dir, nil
}

// find returns the parent directory block, the slot and the entry pointed by the path.
func (v *Volume) find(segments []string) (uint32, int, DirEntry, error) {
	parent, err := v.resolveDirectory(segments[:len(segments)-1])
	if err != nil {
		return 0, 0, DirEntry{}, err
	}
	name := segments[len(segments)-1]
	slot, exists := v.lookup(parent, name)
	if !exists {
		return 0, 0, DirEntry{}, errors.Wrapf(ErrPathNotFound, "%q does not exist", name)
	}
	entry := decodeDirEntry(v.slot(parent, slot))
	if err := v.checkBlock(entry.FATIndex); err != nil {
		return 0, 0, DirEntry{}, err
	}
	return parent, slot, entry, nil
}

// lookup returns the slot of the entry with the name.
func (v *Volume) lookup(dir uint32, name string) (int, bool) {
	for i := range v.entriesPerBlock() {
		words := v.slot(dir, i)
		if slotUsed(words) && decompressName(words[:NameWords]) == name {
			return i, true
		}
	}
	return 0, false
}

func (v *Volume) findFreeSlot(dir uint32) (int, error) {
	for i := range v.entriesPerBlock() {
		if !slotUsed(v.slot(dir, i)) {
			return i, nil
		}
	}
	return 0, errors.WithStack(ErrNoFreeDirEntries)
}

func (v *Volume) entries(dir uint32) []DirEntry {
	entries := []DirEntry{}
	for i := range v.entriesPerBlock() {
		if words := v.slot(dir, i); slotUsed(words) {
			entries = append(entries, decodeDirEntry(words))
		}
	}
	return entries
}

func (v *Volume) countEntries(dir uint32) int {
	var n int
	for i := range v.entriesPerBlock() {
		if slotUsed(v.slot(dir, i)) {
			n++
		}
	}
	return n
}

func (v *Volume) checkBlock(idx uint32) error {
	if idx >= v.sb.TotalBlocks || v.fat[idx] == FreeBlock {
		return errors.Wrapf(ErrCorrupted, "entry points to unallocated block %d", idx)
	}
	return nil
}
