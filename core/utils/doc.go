// Package utils provides common utility functions for world-sync.
// It includes helpers for canonical scalar encoding, index parsing and other
// shared logic that doesn't fit into domain-specific packages.
package utils
