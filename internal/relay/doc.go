// Package relay delivers shutdown commands to hardware agents.
//
// A request is authorised against the device owner, then delivered over the
// first path that works, in this order:
//
//  1. the requester's own dashboard session tracked for the device
//  2. the agent's hardware channel
//  3. every dashboard channel in the device room, plus the broker command topic
//
// Precondition failures attempt no delivery. A successful delivery marks the
// device disconnected and announces the shutdown in the background.
package relay
