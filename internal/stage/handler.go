// Package stage defines the contract between the workflow manager and the
// pipeline's stage handlers.
package stage

import (
	"context"

	"lingopipe/internal/store"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *store.ProcessingJob) error
	Execute(context.Context, *store.ProcessingJob) error
	HealthCheck(context.Context) Health
}
