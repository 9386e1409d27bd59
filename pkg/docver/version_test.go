package docver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantKind    Kind
		wantOrdinal int
		wantErr     bool
	}{
		{"first prototype", "vA", KindPrototype, 1, false},
		{"last prototype", "vZ", KindPrototype, 26, false},
		{"middle prototype", "vM", KindPrototype, 13, false},
		{"first production", "v1", KindProduction, 1, false},
		{"multi-digit production", "v42", KindProduction, 42, false},
		{"last production", "v999", KindProduction, 999, false},
		{"empty", "", Kind(""), 0, true},
		{"bare v", "v", Kind(""), 0, true},
		{"missing prefix", "A", Kind(""), 0, true},
		{"lowercase letter", "va", Kind(""), 0, true},
		{"two letters", "vAB", Kind(""), 0, true},
		{"zero", "v0", Kind(""), 0, true},
		{"above production limit", "v1000", Kind(""), 0, true},
		{"mixed suffix", "v1A", Kind(""), 0, true},
		{"negative", "v-1", Kind(""), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, v.Kind())
			assert.Equal(t, tt.wantOrdinal, v.Ordinal())
			assert.Equal(t, tt.in, v.String())
		})
	}
}

func TestInitial(t *testing.T) {
	assert.Equal(t, "vA", Initial(false).String())
	assert.Equal(t, "v1", Initial(true).String())
}

func TestNext(t *testing.T) {
	t.Run("advances ordinal by one across both full lines", func(t *testing.T) {
		v := Initial(false)
		for i := 1; i < 26; i++ {
			next, err := Next(v, false)
			require.NoError(t, err)
			assert.Equal(t, v.Ordinal()+1, next.Ordinal())
			assert.Equal(t, KindPrototype, next.Kind())
			v = next
		}
		assert.Equal(t, "vZ", v.String())

		v = Initial(true)
		for i := 1; i < 999; i++ {
			next, err := Next(v, true)
			require.NoError(t, err)
			assert.Equal(t, v.Ordinal()+1, next.Ordinal())
			v = next
		}
		assert.Equal(t, "v999", v.String())
	})

	t.Run("fails at line limits", func(t *testing.T) {
		_, err := Next(MustParse("vZ"), false)
		assert.ErrorIs(t, err, ErrVersionLimitExceeded)

		_, err = Next(MustParse("v999"), true)
		assert.ErrorIs(t, err, ErrVersionLimitExceeded)
	})

	t.Run("fails on kind mismatch", func(t *testing.T) {
		_, err := Next(MustParse("vB"), true)
		assert.ErrorIs(t, err, ErrVersionKindMismatch)

		_, err = Next(MustParse("v2"), false)
		assert.ErrorIs(t, err, ErrVersionKindMismatch)
	})
}

func TestCompare(t *testing.T) {
	t.Run("strict total order within the prototype line", func(t *testing.T) {
		prev := MustParse("vA")
		for c := 'B'; c <= 'Z'; c++ {
			cur := MustParse(fmt.Sprintf("v%c", c))

			got, err := Compare(prev, cur)
			require.NoError(t, err)
			assert.Equal(t, -1, got)

			got, err = Compare(cur, prev)
			require.NoError(t, err)
			assert.Equal(t, 1, got)

			got, err = Compare(cur, cur)
			require.NoError(t, err)
			assert.Equal(t, 0, got)

			prev = cur
		}
	})

	t.Run("strict total order within the production line", func(t *testing.T) {
		prev := MustParse("v1")
		for i := 2; i <= 999; i++ {
			cur := MustParse(fmt.Sprintf("v%d", i))

			got, err := Compare(prev, cur)
			require.NoError(t, err)
			assert.Equal(t, -1, got)

			got, err = Compare(cur, prev)
			require.NoError(t, err)
			assert.Equal(t, 1, got)

			prev = cur
		}
	})

	t.Run("cross-kind comparison always fails", func(t *testing.T) {
		_, err := Compare(MustParse("vA"), MustParse("v1"))
		assert.ErrorIs(t, err, ErrIncompatibleVersionKinds)

		_, err = Compare(MustParse("v1"), MustParse("vA"))
		assert.ErrorIs(t, err, ErrIncompatibleVersionKinds)
	})
}

func TestParseNextRoundTrip(t *testing.T) {
	// parse(next(v).String()) advances the ordinal by exactly one for every
	// valid non-terminal version of both lines.
	for c := 'A'; c < 'Z'; c++ {
		v := MustParse(fmt.Sprintf("v%c", c))
		next, err := Next(v, false)
		require.NoError(t, err)

		reparsed, err := Parse(next.String())
		require.NoError(t, err)
		assert.Equal(t, v.Ordinal()+1, reparsed.Ordinal())
	}

	for i := 1; i < 999; i++ {
		v := MustParse(fmt.Sprintf("v%d", i))
		next, err := Next(v, true)
		require.NoError(t, err)

		reparsed, err := Parse(next.String())
		require.NoError(t, err)
		assert.Equal(t, v.Ordinal()+1, reparsed.Ordinal())
	}
}
