// Package sshfeed samples hosts by running commands over SSH.
//
// Authentication uses a password, a private key or both; host keys are
// checked against a known_hosts file. The connection is established lazily
// and re-established after a transport failure. While it is down the feed
// reports itself disconnected.
package sshfeed
