// Package server implements the MCP (Model Context Protocol) server for
// detection post-processing.
//
// This package provides a JSON-RPC 2.0 server that exposes the crop pipeline
// through the MCP protocol, so an agent holding raw detector output can turn
// it into normalized boxes and saved crops.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Detection post-processing:
//   - crops_process: Normalize, clamp, crop and persist a detection batch
//   - crops_detect: Call the inference service, then crops_process
//   - crops_annotate: Preview boxes drawn on the source image
//
// Crop directory:
//   - crops_list: List saved crops, newest first
//   - crops_sweep: Enforce the retention count now
//
// Basic Image Information:
//   - image_dimensions: Get width, height and format
//
// Every tools/call gets a request id that is attached to the pipeline context
// and to log lines. Logs go to stderr; stdout carries only protocol frames.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// Per-detection problems are not errors: degenerate boxes are dropped from
// the result and crop write failures follow the persist policy.
package server
