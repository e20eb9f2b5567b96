// Package datapkg manages data packages: versioned descriptions of the
// streams a source exposes, the schemas inferred from them, and the sinks
// they are delivered to.
//
// A package file (<package>.datapkg.json) records the package version,
// its sources with their connection parameters, one schema per stream
// set and a hash of every stream the last update inspected. Credentials
// never go into package files; they live in the repository configuration
// file next to the saved connection of each repository.
//
// # Workflow
//
//	datapkg init people --source file --connection paths=data/people.csv
//	datapkg update people.datapkg.json
//	datapkg sync people.datapkg.json --sink file --sink-connection path=out
//
// update discovers every stream, infers schemas, compares the result with
// the previous package and bumps the semantic version by the severity of
// the difference: breaking changes bump the major version, compatible
// changes the minor version and cosmetic changes the patch version.
//
// sync delivers the package content to a sink. Sinks store their own state
// per catalog, package and major version, so a later sync only delivers
// stream sets that changed, or with the append method only the records
// past the recorded offsets.
//
// # Key Packages
//
//	pkg/packagefile  - Package file model, parsing and canonical encoding
//	pkg/schema       - Schema inference and content detectors
//	pkg/diff         - Differences between package versions
//	pkg/connector    - Source and sink connectors and their registry
//	pkg/state        - Sink state documents
//	pkg/job          - Jobs, task trees and the job context
//	internal/pipeline - Update and sync jobs
//	internal/cli     - Terminal job context
//	cmd/datapkg      - Command line interface
//
// # Configuration
//
// Settings come from built-in defaults, then the YAML file passed with
// --config, then environment variables with the DATAPKG_ prefix, e.g.
// DATAPKG_STORAGE_HOME_DIR. A .env file in the working directory is loaded
// into the environment first.
package datapkg
