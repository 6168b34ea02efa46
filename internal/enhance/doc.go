// Package enhance provides the built-in accessibility stage handlers:
// analysis, the per-kind transformation stages, and the final compliance
// verification.
package enhance
