package storage

import (
	"context"
	"testing"
	"time"
)

// testContext bounds a database test to ten seconds
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// integration skips tests that need a live server when running with -short
func integration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
