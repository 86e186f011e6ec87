// Package http implements the RPC transport over HTTP.
//
// Requests are POSTed to /{shardId} with the serialized message as body, the
// response body is the serialized answer. GET /metrics serves the process metrics
// (VictoriaMetrics/metrics) in Prometheus text format.
//
// Client:
//
// The client picks the first endpoint of a request round-robin. If a request fails
// the FailureMode of the client config decides what happens next: redistribute
// retries on the next endpoint, retry retries on the same endpoint and cancel fails
// immediately. RetryCount bounds the number of tries. If a user is configured every
// request carries HTTP basic auth credentials.
//
// Server:
//
// The server routes requests to the registered handler. With a configured user
// shard requests without matching basic auth credentials are rejected with 401.
// With log level debug every request is logged.
//
// Thread Safety:
//
//	The client transport can be used concurrently after Connect. Connect and Close
//	must not run concurrently with Send.
package http
