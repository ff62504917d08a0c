// Package providers defines the adapter contracts for external moderation
// APIs and shared helpers for HTTP error mapping and remote-image fetching.
// Concrete adapters live in subpackages (openai, deepseek, vision), one per
// upstream service, each translating its native response shape into the
// normalized moderation.CategoryResult form consumed by the decision engine.
package providers
