//go:build !test

package volume

// MaxOpenFiles is the number of slots in the open-file table.
const MaxOpenFiles = 16
