package volume

import (
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const dumpWordsPerLine = 8

// Usage describes block usage of the volume.
type Usage struct {
	TotalBlocks   uint32
	UsedBlocks    uint32
	WordsPerBlock uint32
}

// FreeBlocks returns the number of free blocks.
func (u Usage) FreeBlocks() uint32 {
	return u.TotalBlocks - u.UsedBlocks
}

// Usage returns block usage of the volume.
func (v *Volume) Usage() (Usage, error) {
	if err := v.checkFormatted(); err != nil {
		return Usage{}, v.diag(err)
	}

	u := Usage{
		TotalBlocks:   v.sb.TotalBlocks,
		WordsPerBlock: v.sb.WordsPerBlock,
	}
	for _, next := range v.fat {
		if next != FreeBlock {
			u.UsedBlocks++
		}
	}
	return u, nil
}

// Block returns the copy of the block content.
func (v *Volume) Block(idx uint32) ([]uint32, error) {
	if err := v.checkFormatted(); err != nil {
		return nil, v.diag(err)
	}
	if idx >= v.sb.TotalBlocks {
		return nil, v.diag(errors.Wrapf(ErrInvalidBlock, "block %d, total blocks: %d", idx, v.sb.TotalBlocks))
	}
	return append([]uint32(nil), v.block(idx)...), nil
}

// DumpFAT prints the first n FAT entries.
func (v *Volume) DumpFAT(w io.Writer, n int) error {
	if err := v.checkFormatted(); err != nil {
		return v.diag(err)
	}
	n = min(max(n, 0), len(v.fat))
	return v.diag(dumpWords(w, v.fat[:n]))
}

// Dump prints superblock, FAT, data region and the open-file table.
func (v *Volume) Dump(w io.Writer) error {
	if err := v.checkFormatted(); err != nil {
		return v.diag(err)
	}

	if _, err := fmt.Fprintf(w, "Superblock: blocks=%d wordsPerBlock=%d label=%q version=%d\n",
		v.sb.TotalBlocks, v.sb.WordsPerBlock, v.sb.Label, v.sb.Version); err != nil {
		return v.diag(errors.WithStack(err))
	}
	if _, err := fmt.Fprintln(w, "FAT:"); err != nil {
		return v.diag(errors.WithStack(err))
	}
	if err := dumpWords(w, v.fat); err != nil {
		return v.diag(err)
	}
	if _, err := fmt.Fprintln(w, "Data:"); err != nil {
		return v.diag(errors.WithStack(err))
	}
	if err := dumpWords(w, v.data); err != nil {
		return v.diag(err)
	}
	if _, err := fmt.Fprintln(w, "Open files:"); err != nil {
		return v.diag(errors.WithStack(err))
	}
	for i, f := range v.files {
		if f.fatIdx == uint32(InvalidHandle) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%2d: handle=%d cursor=%d entry=%d/%d\n",
			i, f.fatIdx, f.cursor, f.dirBlock, f.dirSlot); err != nil {
			return v.diag(errors.WithStack(err))
		}
	}
	return nil
}

// dumpWords prints words in hex together with their printable characters.
func dumpWords(w io.Writer, words []uint32) error {
	for offset := 0; offset < len(words); offset += dumpWordsPerLine {
		line := words[offset:min(offset+dumpWordsPerLine, len(words))]

		chars := make([]byte, 0, dumpWordsPerLine)
		if _, err := fmt.Fprintf(w, "%06x:", offset); err != nil {
			return errors.WithStack(err)
		}
		for _, word := range line {
			if _, err := fmt.Fprintf(w, " %08x", word); err != nil {
				return errors.WithStack(err)
			}
			c := byte('.')
			if word >= ' ' && word <= '~' {
				c = byte(word)
			}
			chars = append(chars, c)
		}
		if _, err := fmt.Fprintf(w, "%*s  %s\n", 9*(dumpWordsPerLine-len(line)), "", chars); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Check verifies the consistency of the directory tree and FAT. All the problems found are returned.
func (v *Volume) Check() error {
	if err := v.checkFormatted(); err != nil {
		return v.diag(err)
	}

	c := &checker{
		v:       v,
		visited: bitset.New(uint(v.sb.TotalBlocks)),
	}
	c.checkDirectory(separator, RootBlock, RootBlock)
	for i, next := range v.fat {
		if next != FreeBlock && !c.visited.Test(uint(i)) {
			c.report(errors.Wrapf(ErrCorrupted, "block %d is allocated but not referenced", i))
		}
	}
	return v.diag(c.err)
}

type checker struct {
	v       *Volume
	visited *bitset.BitSet
	err     error
}

func (c *checker) report(err error) {
	c.err = multierr.Append(c.err, err)
}

func (c *checker) checkChain(path string, head uint32) ([]uint32, bool) {
	chain, err := c.v.chain(head)
	if err != nil {
		c.report(errors.Wrapf(err, "entry %q", path))
		return nil, false
	}
	for _, block := range chain {
		if c.visited.Test(uint(block)) {
			c.report(errors.Wrapf(ErrCorrupted, "entry %q uses block %d referenced elsewhere", path, block))
			return nil, false
		}
		c.visited.Set(uint(block))
	}
	return chain, true
}

func (c *checker) checkDirectory(path string, block, parent uint32) {
	chain, ok := c.checkChain(path, block)
	if !ok {
		return
	}
	if len(chain) != 1 {
		c.report(errors.Wrapf(ErrCorrupted, "directory %q occupies %d blocks", path, len(chain)))
		return
	}

	entries := c.v.entries(block)
	if len(entries) < 2 || entries[0].Name != "." || entries[1].Name != ".." {
		c.report(errors.Wrapf(ErrCorrupted, "directory %q has no \".\" and \"..\" entries", path))
		return
	}
	if entries[0].FATIndex != block || entries[1].FATIndex != parent {
		c.report(errors.Wrapf(ErrCorrupted, "directory %q has invalid \".\" or \"..\" entries", path))
	}

	names := map[string]bool{}
	for _, e := range entries[2:] {
		childPath := path + e.Name
		if path != separator {
			childPath = path + separator + e.Name
		}
		if names[e.Name] {
			c.report(errors.Wrapf(ErrCorrupted, "name %q is duplicated", childPath))
		}
		names[e.Name] = true

		if e.FATIndex >= c.v.sb.TotalBlocks {
			c.report(errors.Wrapf(ErrCorrupted, "entry %q points to block %d outside the volume", childPath, e.FATIndex))
			continue
		}
		if e.IsDir() {
			c.checkDirectory(childPath, e.FATIndex, block)
			continue
		}
		chain, ok := c.checkChain(childPath, e.FATIndex)
		if ok && uint64(e.Filesize) > uint64(len(chain))*uint64(c.v.sb.WordsPerBlock) {
			c.report(errors.Wrapf(ErrCorrupted, "file %q of %d words doesn't fit into %d blocks",
				childPath, e.Filesize, len(chain)))
		}
	}
}
