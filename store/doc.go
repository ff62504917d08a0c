// Package store implements persistence for moderation settings, audit logs
// and external API keys on top of GORM, with an optional Redis read-through
// cache for settings. Availability is probed once at startup and cached; the
// log writer degrades to synthesized in-memory records instead of failing the
// moderation call when the database is unreachable.
package store
