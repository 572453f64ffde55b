// Package knowledge provides the concrete knowledge sources the cascade
// consults: scenario packs matched by keywords and patterns, FAQ documents
// searched by embedding similarity in an embedded chromem database, and a
// remote Qdrant collection.
//
// Sources are declared per tenant as TOML files under the knowledge
// directory:
//
//	<dir>/<tenant_id>/<source_id>.toml
//
// A Library loads every file, registers the resulting sources with the
// cascade registry and reloads a single source when its file changes.
package knowledge
