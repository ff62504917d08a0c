// Package types defines shared types used across the contentguard service:
// the unified error taxonomy and context identity helpers.
package types
