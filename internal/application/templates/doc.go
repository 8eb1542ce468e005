// Package templates is the node template registry: per node type it declares
// the category, typed input and output ports, and default configuration.
//
// Configuration is resolved once, when a node is created: user input is
// merged over the template defaults so downstream code always sees a fully
// populated config.
package templates
