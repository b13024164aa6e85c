// Package payload persists message payload bytes outside the relational
// store, on the local filesystem or in a GridFS bucket.
package payload

import (
	"fmt"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// validateSize enforces the per-leg payload maximum. The check runs before
// any write, and before any asynchronous save is queued.
func validateSize(leg *domain.LegConfiguration, length int64, async bool) error {
	if leg == nil || leg.PayloadMaxSize <= 0 {
		return nil
	}
	if length > leg.PayloadMaxSize {
		mode := "synchronous"
		if async {
			mode = "scheduled"
		}
		return fmt.Errorf("%s payload of %d bytes over leg %s maximum of %d: %w",
			mode, length, leg.Name, leg.PayloadMaxSize, domain.ErrPayloadSizeExceeded)
	}
	return nil
}
