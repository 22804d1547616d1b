// Package memory provides the backends a recall executor searches. Depend on
// the Searcher interface and pick an implementation at wiring time:
//
//   - InMemoryStore: insertion-ordered substring matching, for tests and demos
//   - VectorStore: chromem-go collection with a pluggable embedding function
package memory
