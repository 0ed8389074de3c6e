package constpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightcore/recorder/pkg/dict"
	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/methodmap"
)

type fakeRuntime struct{}

func (fakeRuntime) QueryMethod(id uint64) (methodmap.RawMethodInfo, error) {
	return methodmap.RawMethodInfo{}, errors.New("unresolved")
}

func (fakeRuntime) IsThreadRunSubclass(string) bool { return false }

func newResolver() *Resolver {
	dicts := Dictionaries{
		Symbols:  dict.New(),
		Packages: dict.New(),
		Classes:  dict.New(),
	}
	methods := methodmap.New(methodmap.Config{
		Classes:  dicts.Classes,
		Packages: dicts.Packages,
		Symbols:  dicts.Symbols,
		Runtime:  fakeRuntime{},
	})
	return New(methods, dicts)
}

func TestBaseIDStartsAtZeroAndAdvances(t *testing.T) {
	r := newResolver()
	require.EqualValues(t, 0, r.BaseID())

	r.Advance()
	require.EqualValues(t, BaseIDStride, r.BaseID())

	r.Advance()
	require.EqualValues(t, 2*BaseIDStride, r.BaseID())
}

func TestSymbolIDsAreBiasedByBaseID(t *testing.T) {
	r := newResolver()
	first := r.Symbol("hello")
	require.Less(t, first, uint64(BaseIDStride))

	r.Advance()
	second := r.Symbol("hello")
	require.GreaterOrEqual(t, second, uint64(BaseIDStride))
}

func TestMethodKeyIsBiasedAndStableWithinAChunk(t *testing.T) {
	r := newResolver()
	id := events.FrameID{MethodID: 1, BCI: 0}

	k1 := r.MethodKey(id)
	k2 := r.MethodKey(id)
	require.Equal(t, k1, k2)

	r.Advance()
	k3 := r.MethodKey(id)
	require.Greater(t, k3, k1)
}
