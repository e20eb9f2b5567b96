// Package connector is the home of the source and sink connectors that
// move data package content in and out of external systems.
//
// # Architecture Overview
//
// The connector package is organized into several sub-packages:
//
//   - core: the Source and Sink interfaces, stream descriptors, write
//     targets and the update and stream set processing methods a sink
//     can offer.
//
//   - base: helpers every connector shares. Opening streams concurrently,
//     decoding records by detected compression and format, naming
//     artifacts and state objects, and the BaseSink that sinks embed.
//
//   - sources: file, HTTP, S3-compatible object store and PostgreSQL
//     sources. Sources only discover streams; payloads are opened lazily.
//
//   - sinks: local files, S3, Google Cloud Storage and PostgreSQL tables.
//     Sinks persist their own state next to the data they write.
//
//   - registry: connectors self-register from init functions with the
//     parameters they declare for connection, credentials and
//     configuration.
//
// # Discovery
//
// A source turns connection, credentials and configuration values into
// stream descriptors. Discovery reads metadata only; each descriptor
// carries a fingerprint (an ETag, a modification time, table statistics)
// so later runs can tell whether a stream changed without transferring it.
//
// # Delivery
//
// A sink announces which update methods (batch, append) and stream set
// processing methods it supports for a configuration. The pipeline picks
// one and writes each stream set through a WriteTarget. Append deliveries
// only carry records past the offsets recorded in the sink state.
//
// # Registering a connector
//
//	func init() {
//		registry.RegisterSource(registry.ConnectorInfo{
//			Name:             Type,
//			Description:      "Objects in an S3-compatible bucket",
//			ConnectionSchema: config.ParameterSchema{...},
//		}, NewSource)
//	}
//
// Blank-import pkg/connector/sources and pkg/connector/sinks to link every
// built-in connector.
package connector
