// Package events publishes order lifecycle events through a transactional outbox.
//
// The order workflow stages an event row in the same transaction as the state
// change it describes. Relay polls committed rows in id order, hands each to a
// Publisher (Kafka when brokers are configured, the log otherwise) and marks
// it sent. Delivery is at least once: a crash between publish and mark sends
// the event again on the next poll, so consumers deduplicate on event_id.
package events
