// Package moderation implements the threshold-based decision engine: it turns
// normalized provider output (numeric scores for text categories, ordinal
// likelihoods for image categories) into per-category and overall flag
// decisions using per-user thresholds.
//
// The engine is pure: it performs no I/O and never returns errors. Provider
// adapters are responsible for producing normalized input.
package moderation
