package brfs

import (
	"go.uber.org/zap"

	"github.com/outofforest/brfs/flash"
	"github.com/outofforest/brfs/persistence"
	"github.com/outofforest/brfs/volume"
)

// New returns volume operating on the flash chip. The volume must be formatted or loaded before use.
func New(chip flash.Chip, log *zap.Logger) (*volume.Volume, error) {
	store, err := persistence.NewStore(flash.New(chip, flash.DefaultMaxBusyPolls))
	if err != nil {
		return nil, err
	}
	return volume.New(store, log), nil
}

// Mount returns volume loaded from the flash chip.
func Mount(chip flash.Chip, log *zap.Logger) (*volume.Volume, error) {
	v, err := New(chip, log)
	if err != nil {
		return nil, err
	}
	if err := v.Load(); err != nil {
		return nil, err
	}
	return v, nil
}
