// Package status serves read-only item and batch status queries.
package status
