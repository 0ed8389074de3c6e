package wire

import "errors"

// ErrTruncated is returned by the decode helpers when the input ends
// before a complete value could be read.
var ErrTruncated = errors.New("wire: truncated input")

// DecodeVar64 decodes a LEB128-style variable-width unsigned integer from
// the front of buf and returns the value and the number of bytes
// consumed. It is the inverse of (*Buffer).PutVar64 and is used by the
// round-trip property test.
func DecodeVar64(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrTruncated
}

// DecodeVar32 is DecodeVar64 truncated to 32 bits, for callers that know
// the encoded value fits.
func DecodeVar32(buf []byte) (uint32, int, error) {
	v, n, err := DecodeVar64(buf)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v), n, nil
}

// DecodePatchedVar32 decodes the fixed 5-byte patch-slot encoding written
// by (*Buffer).PatchVar32.
func DecodePatchedVar32(buf []byte) (uint32, error) {
	if len(buf) < patchSlotSize {
		return 0, ErrTruncated
	}
	v, _, err := DecodeVar64(buf[:patchSlotSize])
	return uint32(v), err
}
