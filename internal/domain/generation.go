package domain

// GenerationStatus is the tri-state outcome of one generation call.
type GenerationStatus string

const (
	GenerationSuccess     GenerationStatus = "SUCCESS"
	GenerationSafetyBlock GenerationStatus = "SAFETY_BLOCK"
	GenerationError       GenerationStatus = "ERROR"
)

// GenerationOutcome carries the model output together with its status. A
// safety block is a content-policy rejection, not a transient failure, and the
// two must never be conflated: the orchestrator branches on Status.
type GenerationOutcome struct {
	Status GenerationStatus
	Text   string
}
