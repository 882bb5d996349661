package block

import (
	"bytes"
	"io"

	"terrierdb/utils/varint"
)

// Handle locates a byte range inside an SSTable file.
type Handle struct {
	Offset uint64
	Size   uint64
}

// Write encodes the handle as two varints.
func (h Handle) Write(w io.Writer) error {
	if err := varint.Write(w, h.Offset); err != nil {
		return err
	}
	return varint.Write(w, h.Size)
}

// Encode returns the handle's varint encoding as a value payload.
func (h Handle) Encode() []byte {
	var buf bytes.Buffer
	h.Write(&buf)
	return buf.Bytes()
}

// ReadHandle decodes a handle written by Write.
func ReadHandle(r io.ByteReader) (Handle, error) {
	offset, err := varint.Read(r)
	if err != nil {
		return Handle{}, err
	}
	size, err := varint.Read(r)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Offset: offset, Size: size}, nil
}

// DecodeHandle decodes a handle from a value payload.
func DecodeHandle(data []byte) (Handle, error) {
	return ReadHandle(bytes.NewReader(data))
}
