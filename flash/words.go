package flash

import "encoding/binary"

// EncodeWords stores words in p, most significant byte first, the way they are shifted out over SPI.
// p must be at least 4*len(words) long.
func EncodeWords(p []byte, words []uint32) {
	for i, w := range words {
		binary.BigEndian.PutUint32(p[i*WordSize:], w)
	}
}

// DecodeWords is the reverse of EncodeWords.
func DecodeWords(words []uint32, p []byte) {
	for i := range words {
		words[i] = binary.BigEndian.Uint32(p[i*WordSize:])
	}
}
