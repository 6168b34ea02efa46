// Package api serves the HTTP surface of the daemon: content and archive
// ingestion, status queries, cancellation, and review resolution.
package api
