// Package bbs is the command dispatcher and presentation layer.
//
// Inbound text goes through a fixed pipeline: drain the sender's DM
// queue, hand #SYNC frames to replication, drop blacklisted senders,
// run bypass commands (?, ??, help, menu, info*) unconditionally, apply
// the per-sender rate limit, then route on the first token. Replies are
// paged to the MTU with "(i/N) " prefixes and the menu shrinks through a
// fixed removal order so deployments get predictable output.
package bbs
