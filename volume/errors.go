package volume

import "github.com/pkg/errors"

// Errors reported by the volume. Returned errors wrap them with the context, use errors.Is to match.
var (
	ErrNotFormatted      = errors.New("volume is neither formatted nor loaded")
	ErrInvalidGeometry   = errors.New("invalid volume geometry")
	ErrInvalidSuperblock = errors.New("invalid superblock")
	ErrPathTooLong       = errors.New("path too long")
	ErrInvalidPath       = errors.New("invalid path")
	ErrPathNotFound      = errors.New("path not found")
	ErrInvalidName       = errors.New("invalid name")
	ErrNameTooLong       = errors.New("name too long")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNoFreeBlocks      = errors.New("no free blocks left")
	ErrNoFreeDirEntries  = errors.New("no free directory entries left")
	ErrAlreadyOpen       = errors.New("file already open")
	ErrTooManyOpenFiles  = errors.New("all file slots already in use")
	ErrNotOpen           = errors.New("file not open")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrFileOpen          = errors.New("file is open")
	ErrCursorOutOfBounds = errors.New("cursor out of bounds")
	ErrCorrupted         = errors.New("volume corrupted")
	ErrInvalidBlock      = errors.New("block does not exist")
)
