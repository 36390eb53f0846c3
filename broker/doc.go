// Package broker defines the publish/subscribe abstraction the pipeline
// stages communicate through.
//
// Channels are partitioned and key-ordered: messages sharing a key land on
// the same partition and are delivered in publish order. Subscribers
// belong to a consumer group and resume from the group's last committed
// offsets; a delivery is committed only after the work it triggered has
// been published downstream, which gives at-least-once delivery.
//
// Payloads are JSON documents tagged with a schema name and version in
// message headers. A Codec validates every payload against the JSON Schema
// registered for its tag on both encode and decode.
//
// Implementations:
//
//   - kafka: segmentio/kafka-go writer and consumer-group reader
//   - memory: in-process partitioned log for tests and single-process runs
package broker
