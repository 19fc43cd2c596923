package broker

import (
	"context"
	"time"
)

// Stage topics. Each work topic has a paired dead-letter destination that
// the stage pool routes to when a message runs out of delivery attempts.
const (
	TopicOCR     = "compare.ocr"
	TopicDiff    = "compare.diff"
	TopicSummary = "compare.summary"

	deadLetterSuffix = ".dead-letter"
)

// DeadLetterTopic returns the dead-letter destination paired with a topic.
func DeadLetterTopic(topic string) string {
	return topic + deadLetterSuffix
}

// Message is the envelope carried between pipeline stages. VersionID and
// PageNumber are set only for stages that address a single version or page.
type Message struct {
	Stage      string    `json:"stage"`
	JobID      string    `json:"job_id"`
	VersionID  string    `json:"version_id,omitempty"`
	PageNumber int       `json:"page_number,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Error carries the final failure when a message is dead-lettered.
	Error string `json:"error,omitempty"`
}

// Delivery is one attempt to hand a message to a consumer. Exactly one of
// Ack, Nack, or DeadLetter must be called; the broker guarantees at-least-once
// semantics, so consumers must tolerate seeing the same message again.
type Delivery struct {
	msg    Message
	topic  string
	reason string
	done   func(disposition, string)
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionNack
	dispositionDead
)

// Message returns the delivered envelope.
func (d *Delivery) Message() Message { return d.msg }

// Topic returns the topic this delivery arrived on.
func (d *Delivery) Topic() string { return d.topic }

// Attempt reports which delivery attempt this is, starting at 1.
func (d *Delivery) Attempt() int { return d.msg.Attempt }

// Ack marks the message handled; it will not be redelivered.
func (d *Delivery) Ack() { d.settle(dispositionAck) }

// Nack returns the message to the topic. The broker redelivers it after a
// backoff derived from the attempt count, with the count incremented.
func (d *Delivery) Nack() { d.settle(dispositionNack) }

// DeadLetter moves the message to the topic's paired dead-letter
// destination, preserving the attempt count that exhausted the policy and
// attaching the final failure for the parked record.
func (d *Delivery) DeadLetter(reason string) {
	d.reason = reason
	d.settle(dispositionDead)
}

func (d *Delivery) settle(result disposition) {
	if d.done == nil {
		return
	}
	done := d.done
	d.done = nil
	done(result, d.reason)
}

// Broker is the transport contract between the orchestrator and stage
// workers. Implementations provide at-least-once delivery with per-message
// attempt counts.
type Broker interface {
	// Publish enqueues a message on a topic. Attempt is forced to 1 and
	// EnqueuedAt stamped when unset.
	Publish(ctx context.Context, topic string, msg Message) error
	// Subscribe returns the delivery channel for a topic. The channel is
	// closed when the broker shuts down.
	Subscribe(topic string) <-chan *Delivery
	// Depth reports the number of messages buffered or awaiting redelivery
	// on a topic.
	Depth(topic string) int
	// Close stops delivery and releases resources. Pending redeliveries are
	// dropped.
	Close() error
}
