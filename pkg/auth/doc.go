// Package auth validates per-queue API keys for external submissions.
// The HTTP boundary calls Validate before any document is cached or any
// UUID is queued; a rejected request leaves no trace in Redis.
package auth
