// Package main provides the cidl command line tool.
//
// The CLI supports:
//   - validate: parse and analyze a CIDL document
//   - migrate: write the next numbered migration, or apply to a database
//   - status: compare the document with the latest snapshot and the database
//   - doctor: run health checks on the project
//   - query: print a data source as materialized JSON
//   - serve: expose data sources over HTTP
//
// Usage:
//
//	cidl [flags] <command>
//
// Settings come from flags, CIDL_* environment variables and cidl.yaml.
package main

func main() {
	Execute()
}
