// Package mcp wires the session store, evidence service, gate service and
// templates into MCP tools served over stdio. Tool handlers use typed
// input/output structs with jsonschema tags; every invocation is wrapped
// with OpenTelemetry metrics.
package mcp
