// Package connection holds live channel handles in memory.
//
// Registry maps a key (a MAC address, or a user/MAC pair) to the channel that
// currently serves it. Rooms groups channels under names so one emit reaches
// every member. Neither survives a restart.
package connection
