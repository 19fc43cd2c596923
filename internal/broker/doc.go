// Package broker defines the message transport between pipeline stages and
// provides the in-process implementation the daemon runs on. Delivery is
// at-least-once: a negatively acknowledged message comes back with a larger
// attempt count after an exponential backoff, and messages that exhaust the
// retry policy are routed to the topic's paired dead-letter destination.
package broker
