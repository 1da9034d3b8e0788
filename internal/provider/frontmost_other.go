//go:build !darwin

package provider

import "os"

// FrontmostBundleID returns LEADERKEY_FRONTMOST, which stands in for the
// frontmost application where the platform has no such notion.
func FrontmostBundleID() string {
	return os.Getenv("LEADERKEY_FRONTMOST")
}
