// Package bus implements the event bus and dispatcher of spec.md §4.1: a
// bounded, per-channel FIFO queue fed by source adapters and guest
// logback emission, drained by a fixed-size fan-out worker pool that
// hands each event to every module subscribing to its channel.
//
// The design is grounded on the teacher's core/event package:
// core/event.ChannelBus for the buffered-channel-with-mutex queue shape,
// core/event.channelTransport.Dispatch for the non-blocking
// select/default TrySubmit idiom, and core/queue.Worker's buffered-
// channel counting semaphore for bounding concurrent fan-out work.
// Unlike core/event's single static channel, Bus keeps one sub-queue per
// event channel name so that FIFO order holds within a channel without
// serializing unrelated channels behind a single queue.
package bus
