// Package api groups the HTTP surface of the ContentGuard service.
//
// The REST API exposes:
//   - Text and image moderation (session-authenticated dashboard routes)
//   - Moderation history with filtering and pagination
//   - Per-user moderation settings and the category catalog
//   - External API key management and x-api-key authenticated endpoints
//   - Health, readiness and version endpoints
//
// Handlers live in the handlers subpackage; routing and middleware are wired
// in cmd/contentguard.
package api
