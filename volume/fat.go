package volume

import (
	"github.com/pkg/errors"
)

// findFreeBlock returns the lowest free block.
func (v *Volume) findFreeBlock() (uint32, error) {
	for i, next := range v.fat {
		if next == FreeBlock && uint32(i) != RootBlock {
			return uint32(i), nil
		}
	}
	return 0, errors.WithStack(ErrNoFreeBlocks)
}

// allocateAndLink appends a zeroed free block to the chain ending at tail.
func (v *Volume) allocateAndLink(tail uint32) (uint32, error) {
	if v.fat[tail] != EndOfChain {
		return 0, errors.Wrapf(ErrCorrupted, "block %d is not the end of the chain", tail)
	}

	block, err := v.findFreeBlock()
	if err != nil {
		return 0, err
	}

	clear(v.block(block))
	v.fat[tail] = block
	v.fat[block] = EndOfChain
	v.markDirty(tail)
	v.markDirty(block)

	return block, nil
}

// freeChain releases all the blocks of the chain starting at head.
func (v *Volume) freeChain(head uint32) error {
	if v.fat[head] == FreeBlock {
		return nil
	}

	block := head
	for range v.fat {
		next := v.fat[block]
		v.fat[block] = FreeBlock
		v.markDirty(block)

		if next == EndOfChain {
			return nil
		}
		if next == FreeBlock || next >= uint32(len(v.fat)) {
			return errors.Wrapf(ErrCorrupted, "block %d links to invalid block %d", block, next)
		}
		block = next
	}
	return errors.Wrapf(ErrCorrupted, "chain starting at block %d does not terminate", head)
}

// next returns the block following the one provided in the chain, EndOfChain for the last one.
func (v *Volume) next(block uint32) (uint32, error) {
	next := v.fat[block]
	switch {
	case next == EndOfChain:
		return EndOfChain, nil
	case next == FreeBlock || next >= uint32(len(v.fat)):
		return 0, errors.Wrapf(ErrCorrupted, "block %d links to invalid block %d", block, next)
	}
	return next, nil
}

// Chain returns the blocks of the chain starting at head.
func (v *Volume) Chain(head uint32) ([]uint32, error) {
	if err := v.checkFormatted(); err != nil {
		return nil, v.diag(err)
	}
	chain, err := v.chain(head)
	return chain, v.diag(err)
}

func (v *Volume) chain(head uint32) ([]uint32, error) {
	if head >= uint32(len(v.fat)) || v.fat[head] == FreeBlock {
		return nil, errors.Wrapf(ErrCorrupted, "block %d is not allocated", head)
	}

	chain := []uint32{}
	for block := head; block != EndOfChain; {
		if len(chain) == len(v.fat) {
			return nil, errors.Wrapf(ErrCorrupted, "chain starting at block %d does not terminate", head)
		}
		chain = append(chain, block)

		var err error
		block, err = v.next(block)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}
