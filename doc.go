// Package epochbroker is an embeddable, in-process message broker organized
// around named topics. It is a library, not a server: callers construct a
// Broker, create Topics on it, and drive publish/consume/ack/nack directly
// through Go method calls — there is no wire protocol, CLI, or network
// listener anywhere in this module.
//
// A Topic composes six interlocked subsystems (message pipeline, router,
// per-consumer priority queues, ack manager, delayed queue, dead-letter
// queue) behind a single-goroutine command loop, so every public method call
// appears atomic to other callers without a single broad lock serializing
// unrelated topics.
package epochbroker
