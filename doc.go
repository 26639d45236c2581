// Package geobridge provides a schema-driven record-ingestion bridge. It
// parses incoming byte streams through a schema-bound converter and appends
// the resulting records to a storage backend, committing each record durably
// before parsing the next.
//
// # Model
//
// The unit of work is one opaque byte stream, typically a file. A processor
// is provisioned once per configuration (schema resolved, backend connected,
// writer handle opened) and then invoked once per unit. Each invocation
// yields an outcome:
//
//   - succeeded: every record in the stream was parsed and committed
//   - failed: a stream, parse or append fault ended the unit early; records
//     committed before the fault stay committed
//   - noop: the unit carried no stream
//
// There is no cross-unit transaction and no rollback. Exactly-once delivery
// is out of scope; re-invoking a unit appends its records again.
//
// # Quick Start
//
// Ingest a CSV file into the in-memory backend:
//
//	import (
//	    "context"
//
//	    "github.com/geobridge/geobridge/internal/bridge"
//	    "github.com/geobridge/geobridge/pkg/config"
//	    _ "github.com/geobridge/geobridge/pkg/convert/delimited"
//	    _ "github.com/geobridge/geobridge/pkg/sink/memory"
//	)
//
//	cfg := config.New()
//	cfg.Schema.InlineSpec = "id:string,ts:timestamp,geom:point"
//	cfg.Schema.TypeNameOverride = "obs"
//	cfg.Converter.InlineSpec = `{"type": "delimited"}`
//
//	proc := bridge.NewProcessor(cfg)
//	if err := proc.Start(context.Background()); err != nil {
//	    return err
//	}
//	defer proc.Stop(context.Background())
//
//	outcome := proc.Invoke(context.Background(), unit)
//
// # Key Packages
//
//	internal/bridge  - Processor lifecycle and the per-unit pipeline
//	pkg/schema       - Field types, schema parsing and the schema registry
//	pkg/convert      - Converter kinds (delimited, jsonl, avro) and resolution
//	pkg/sink         - Storage backends (postgres, kafka, memory)
//	pkg/compression  - Stream decompression with filename sniffing
//	pkg/config       - Configuration loading and validation
//	pkg/errors       - Structured error handling with fault classification
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
//
// # Configuration
//
// Configuration selects exactly one schema source and one converter source,
// either by registry name or inline:
//
//	name: obs-bridge
//	schema:
//	  inline_spec: "id:string,ts:timestamp,geom:point"
//	  type_name_override: obs
//	converter:
//	  inline_spec: '{"type": "delimited"}'
//	sink:
//	  backend: postgres
//	  endpoints: ["localhost:5432"]
//	  instance: geodata
//	  credentials:
//	    username: ${GEOBRIDGE_DB_USER}
//	    password: ${GEOBRIDGE_DB_PASSWORD}
//
// Environment variables are substituted with ${VAR_NAME} syntax.
package geobridge
