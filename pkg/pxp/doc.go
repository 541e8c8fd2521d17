// Package pxp provides the protocol value types shared between the Warren
// transport layer and the request-processing core.
//
// # Overview
//
// Warren executes remote task requests on behalf of a controller. Requests
// arrive over a persistent connection as parsed message chunks (envelope,
// data, debug) and are dispatched to named modules, each exposing one or
// more actions with JSON-schema-described inputs and outputs.
//
// # Core Concepts
//
// A Request is the immutable representation of one inbound RPC after the
// message chunks have been parsed: envelope metadata (message id, sender),
// routing fields (module, action, transaction id) and the action parameters.
// Requests come in two flavours: blocking requests are answered inline on
// the connection, non-blocking requests are acknowledged immediately and
// executed in the background with durable on-disk results.
//
// A Response is built from a Request and carries the action metadata that is
// both sent on the wire and persisted to the spool. It starts in the running
// state and transitions exactly once to success or failure; every mutation
// is checked against a fixed metadata schema.
//
// The Connector interface is the narrow callback surface the core uses to
// reach back into the transport: blocking and non-blocking responses,
// provisional acknowledgements, application-level (PXP) errors and
// protocol-level transport errors.
//
// # Design Principles
//
//   - Immutability: a Request never changes after construction; the only
//     exception is the results directory, set exactly once before dispatch.
//   - Validation: any response rendered to disk or wire must pass the
//     action metadata schema.
//   - Narrow interfaces: the core depends on the transport only through
//     Connector, so it can be driven by any connection implementation.
package pxp
