package sim

import (
	"simhost/server/internal/telemetry"
	"simhost/server/logging"
)

// Deps carries shared infrastructure for the loop.
type Deps struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Clock   logging.Clock
}
