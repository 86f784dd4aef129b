// Package core defines the wire types exchanged between agents and the
// invocation context handed to tools. It carries no policy of its own; the
// guard and history semantics live in the mesh package.
package core
