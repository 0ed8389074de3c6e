package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightcore/recorder/pkg/wire"
)

func TestWriteMetadataSectionListsEveryEventType(t *testing.T) {
	resolver := newTestResolver()
	buf := wire.NewBuffer(64 << 10)

	require.NoError(t, writeMetadataSection(buf, resolver))

	out := buf.Bytes()
	require.EqualValues(t, tagMetadata, out[0])

	count, n, err := wire.DecodeVar32(out[1:])
	require.NoError(t, err)
	require.EqualValues(t, len(eventTypeNames), count)
	require.Greater(t, len(out), 1+n)
}

func TestWriteActiveSettingSectionEncodesGateFlags(t *testing.T) {
	buf := wire.NewBuffer(64 << 10)
	opts := PreambleOptions{NoSystemInfo: true, NoNativeLibs: true}

	require.NoError(t, writeActiveSettingSection(buf, RotationPolicy{MaxBytes: 1, MaxAge: 1}, opts))

	out := buf.Bytes()
	flags := out[len(out)-1]
	require.EqualValues(t, 1|4, flags)
}

func TestWritePreambleOmitsSystemInfoAndNativeLibsWhenGated(t *testing.T) {
	resolver := newTestResolver()

	full := wire.NewBuffer(64 << 10)
	require.NoError(t, writePreamble(full, PreambleOptions{}, RotationPolicy{}, resolver, 0))

	gated := wire.NewBuffer(64 << 10)
	require.NoError(t, writePreamble(gated, PreambleOptions{NoSystemInfo: true, NoNativeLibs: true}, RotationPolicy{}, resolver, 0))

	require.Greater(t, full.Len(), gated.Len())
}
