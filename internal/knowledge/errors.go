package knowledge

import "errors"

var (
	// ErrMalformedPattern indicates a scenario regex that does not compile.
	ErrMalformedPattern = errors.New("malformed scenario pattern")

	// ErrInvalidPack indicates a source file that fails validation.
	ErrInvalidPack = errors.New("invalid knowledge pack")

	// ErrUnknownKind indicates a source file with an unsupported kind.
	ErrUnknownKind = errors.New("unknown source kind")

	// ErrNoEmbedder indicates a vector source without an embedding function.
	ErrNoEmbedder = errors.New("no embedding function configured")

	// ErrQdrantDisabled indicates a qdrant source while no client is configured.
	ErrQdrantDisabled = errors.New("qdrant is not configured")
)
