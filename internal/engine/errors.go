package engine

import "errors"

// Degradable failures: search falls back to keyword matching when the
// embedding provider is down, and to the default sector when the
// classifier is. Store failures are fatal for the calling operation and
// surface as-is.
var (
	ErrEmbeddingUnavailable  = errors.New("engine: embedding service unavailable")
	ErrClassifierUnavailable = errors.New("engine: sector classifier unavailable")
)
