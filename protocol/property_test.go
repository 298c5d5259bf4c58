package protocol

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conductorhq/conductor-go/graph/value"
)

// TestValidatorRejectsConcurrentDuplicateIDs checks invariant 5: for any
// set of distinct in-flight request ids, the validator never treats two
// of them as a collision, and once an id is retired it's free to be
// reused; but a second request for an id still outstanding is always
// rejected as a duplicate.
func TestValidatorRejectsConcurrentDuplicateIDs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("distinct outstanding ids never collide, duplicates always rejected", prop.ForAll(
		func(n int) bool {
			v := NewValidator(DefaultValidatorOptions())

			ids := make([]string, n)
			for i := 0; i < n; i++ {
				ids[i] = fmt.Sprintf("req-%d", i)
				req := NewRequest(ids[i], "tool.call", value.Null())
				if err := v.ValidateRequest(req, 10); err != nil {
					return false // distinct ids must never collide
				}
			}

			if n > 0 {
				dup := NewRequest(ids[0], "tool.call", value.Null())
				if err := v.ValidateRequest(dup, 10); err == nil {
					return false // id ids[0] is still outstanding
				}
				v.RetireRequestID(ids[0])
				if err := v.ValidateRequest(dup, 10); err != nil {
					return false // retired ids must be reusable
				}
			}
			return true
		},
		gen.IntRange(0, 25),
	))

	properties.TestingRun(t)
}
