// Package registry maps node type names to the factories that build them.
//
// Modules compiled into the binary register their node types at startup.
// The graph loader asks the registry to create an instance for every node
// in a document; a type that is not registered yields ErrUnknownNodeType,
// which the loader turns into a placeholder so that one unrecognized node
// cannot sink an entire automation.
package registry
