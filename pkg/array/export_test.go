package array

import "testing"

// AllowSmallPages lets a test open arrays with data pages below the minimum.
func AllowSmallPages(t testing.TB) {
	allowSmallPages = true
	t.Cleanup(func() { allowSmallPages = false })
}
