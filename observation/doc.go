// Package observation defines the shared vocabulary for outcomes returned to an
// agent after it performs an action. It provides:
//
//   - Kind: the closed set of stable wire tags (read, browse, run, recall, chat)
//   - Payload shapes, one per kind, with per-kind validation
//   - Registry: tag -> payload shape, consulted by producers and decoders
//   - Observation: the immutable tagged value with correlation metadata
//   - Codec: flat JSON wire form with a configurable unknown-kind policy
//
// Executors classify their raw results with Classify (or Fail for an action's
// own failure); the orchestration loop decodes wire messages with a Codec and
// branches on the returned error values. Nothing in this package panics on bad
// input or holds mutable shared state beyond the registry's guarded map.
package observation
