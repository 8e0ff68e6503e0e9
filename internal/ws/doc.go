// Package ws manages the WebSocket connections terminated on this node and
// fans broker deliveries out to them. Connection state here is strictly
// local; the cross-node view of who is online lives in the registry.
package ws
