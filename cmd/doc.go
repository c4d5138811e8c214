// Package cmd implements the command-line interface of kqnet. It provides a demo
// server, a demo client and a benchmark speaking the demo protocol of package demo.
//
// The package is organized into several subpackages:
//
//   - serve: starts the demo server (answers RequestAccept, relays MessageRequest)
//   - connect: connects the demo client and prints what the server sends
//   - perf: round trip and relay benchmarks against a running server
//   - demo: message ids and scramble function of the demo protocol
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See kqnet -help for a list of all commands.
package cmd
