// Package store provides storage and pub/sub functionality for entity
// attribute values.
//
// This package is internal to pulsefeed and holds the live attribute model
// that feeds write into. It implements a publish-subscribe pattern so the
// HTTP API can push attribute changes to connected clients.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [AttributeValue]: Storage representation of one attribute of one entity
//
// Writes are blind overwrites keyed by (entity, attribute): the last write
// wins and nothing is ever read-modified-written. Subscribers receive updates
// via channels with non-blocking sends (slow subscribers miss updates rather
// than block pollers).
//
// Users of the pulsefeed library should not need to interact with this
// package directly. Storage is managed by pulsefeed.Entity and pulsefeed.Fleet.
package store
