// Package api exposes the REST interface for submitting transaction
// intents and inspecting their execution progress. It also serves the
// health probe and the Prometheus metrics endpoint.
package api
