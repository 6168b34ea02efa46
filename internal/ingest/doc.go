// Package ingest validates submission payloads before they reach the job
// store: single-item requests and bulk batch manifests. Manifests are checked
// against an embedded JSON schema; language tags are canonicalized to BCP 47.
package ingest
