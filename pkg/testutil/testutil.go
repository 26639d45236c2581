// Package testutil provides shared helpers for geobridge tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/geobridge/geobridge/pkg/config"
	"github.com/geobridge/geobridge/pkg/schema"
)

// ObsSpec is the inline declaration of the observation schema used across
// the test suite: one identifier, one event timestamp, one coordinate pair.
const ObsSpec = "id:string,ts:timestamp,geom:point"

// ObsCSVSpec is the inline converter configuration matching ObsSpec for
// headerless id,ts,lon,lat rows.
const ObsCSVSpec = `{"type":"delimited"}`

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ObsSchema builds the observation schema from ObsSpec.
func ObsSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.ParseSpec(ObsSpec, "obs")
	if err != nil {
		t.Fatalf("parse obs schema: %v", err)
	}
	return s
}

// MemoryConfig builds a complete processor configuration bound to the
// in-memory backend instance named inst, with the observation schema and
// CSV converter declared inline.
func MemoryConfig(inst string) *config.Config {
	cfg := config.New()
	cfg.Name = "test-bridge"
	cfg.Schema.InlineSpec = ObsSpec
	cfg.Schema.TypeNameOverride = "obs"
	cfg.Converter.InlineSpec = ObsCSVSpec
	cfg.Sink.Backend = "memory"
	cfg.Sink.Instance = inst
	return cfg
}

// WriteObsCSV writes rows of id,ts,lon,lat CSV to a file under dir and
// returns its path.
func WriteObsCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
