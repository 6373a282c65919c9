package test

import (
	"testing"
	"time"
)

// SkipIfShort skips a test if testing in short mode
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		// t.Skip() kills the goroutine
		t.Skip("Skipping " + t.Name() + " since it's not a unit test.")
	}
}

// GetTime returns a fixed point in time shifted by `seconds`
func GetTime(seconds int) time.Time {
	return time.Unix(1600000000+int64(seconds), 0).UTC()
}
