// Package mcp defines the wire types for the slice of the Model Context
// Protocol this server speaks: the initialize handshake, ping, and the tools
// surface. Types mirror the protocol schema; they carry no behavior.
package mcp
