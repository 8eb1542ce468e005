// Package workflow reads and writes the JSON workflow file format used for
// import and export.
//
// The round trip Import(Export(g)) preserves node and edge identity, type,
// position and data. Settings and viewport are carried through but not
// interpreted here.
package workflow
