package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 127, 128, 255, 256, 16383, 16384,
		math.MaxUint32, math.MaxUint32 + 1, math.MaxInt64, math.MaxUint64,
	}

	for _, v := range values {
		buf := NewBuffer(32)
		require.NoError(t, buf.PutVar64(v))

		got, n, err := DecodeVar64(buf.Bytes())
		require.NoError(t, err)
		require.Equal(t, buf.Len(), n)
		require.Equal(t, v, got)
	}
}

func TestPatchVar32FixedWidth(t *testing.T) {
	buf := NewBuffer(64)
	offset, err := buf.Skip(PatchSlotSize)
	require.NoError(t, err)
	require.NoError(t, buf.Put8(0xAB))
	require.NoError(t, buf.PutUTF8("hello"))

	recordLen := uint32(buf.Len() - offset)
	buf.PatchVar32(offset, recordLen)

	// Every patched byte but the last must carry the continuation bit,
	// regardless of how small the value is.
	patched := buf.Bytes()[offset : offset+PatchSlotSize]
	for i := 0; i < PatchSlotSize-1; i++ {
		require.NotZero(t, patched[i]&0x80, "byte %d must have continuation bit set", i)
	}
	require.Zero(t, patched[PatchSlotSize-1]&0x80)

	decoded, err := DecodePatchedVar32(buf.Bytes()[offset:])
	require.NoError(t, err)
	require.Equal(t, recordLen, decoded)
}

func TestPutUTF8Truncates(t *testing.T) {
	buf := NewBuffer(BufferSize)
	long := make([]byte, MaxUTF8Length+100)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, buf.PutUTF8(string(long)))

	data := buf.Bytes()
	require.Equal(t, byte(3), data[0])
	n, consumed, err := DecodeVar32(data[1:])
	require.NoError(t, err)
	require.Equal(t, uint32(MaxUTF8Length), n)
	require.Equal(t, MaxUTF8Length, int(n))
	_ = consumed
}

func TestBufferFullReturnsError(t *testing.T) {
	buf := NewBuffer(4)
	require.NoError(t, buf.Put32(1))
	require.ErrorIs(t, buf.Put8(1), ErrBufferFull)
}

func TestResetReusesBackingArray(t *testing.T) {
	buf := NewBuffer(16)
	require.NoError(t, buf.Put64(42))
	require.Equal(t, 8, buf.Len())
	buf.Reset()
	require.Equal(t, 0, buf.Len())
	require.Equal(t, 16, buf.Remaining())
}
