/*
Package events provides the in-memory pub/sub broker used to fan out
orchestrator lifecycle notifications.

# Architecture

A single Broker owns one buffered ingest channel and a set of subscriber
channels. Publish enqueues onto the ingest channel and returns; while that
256-slot buffer is full it blocks until there is room or the broker is
stopped. A dedicated goroutine drains that channel and broadcasts each
event to every subscriber, skipping (not blocking on) subscribers whose
own buffer is full.

	Publish(event) -> ingest channel (256) -> broadcast loop -> subscriber channels (64 each)

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for evt := range sub {
			// handle evt.Type, evt.Subject, evt.Metadata
		}
	}()

	broker.Publish(&types.Event{
		Type:    types.EventExecutionFailed,
		Subject: string(executionID),
		Message: "exit code 137",
	})

# Ordering and delivery

Because one goroutine drains the ingest channel, events for the same
Subject are broadcast in publish order. Delivery is best-effort: a slow
subscriber with a full buffer misses events rather than stalling the
broker. Callers that need a durable audit trail should subscribe and
persist events themselves; the broker keeps no history.
*/
package events
