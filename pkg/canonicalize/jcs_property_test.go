//go:build property

package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Insertion order of map keys never changes the canonical hash.
func TestCanonicalHash_InsertionOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash independent of insertion order", prop.ForAll(
		func(keys []string, vals []int) bool {
			forward := map[string]any{}
			backward := map[string]any{}
			for i, k := range keys {
				forward[k] = vals[i%len(vals)]
			}
			for i := len(keys) - 1; i >= 0; i-- {
				backward[keys[i]] = forward[keys[i]]
			}
			h1, err1 := CanonicalHash(forward)
			h2, err2 := CanonicalHash(backward)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOfN(4, gen.IntRange(-1000, 1000)),
	))

	properties.Property("jcs output is a fixed point", prop.ForAll(
		func(s string, n int) bool {
			b1, err := JCS(map[string]any{"s": s, "n": n})
			if err != nil {
				return false
			}
			b2, err := JCSBytes(b1)
			return err == nil && string(b1) == string(b2)
		},
		gen.AnyString(),
		gen.Int(),
	))

	properties.TestingRun(t)
}
