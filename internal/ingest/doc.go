// Package ingest consumes RawArticle messages from the work queue and drives
// each one through extraction, validation, scoring, and the idempotent
// upsert. It owns the ack/requeue/dead-letter decision for every delivery;
// queue backends only implement the Source and Delivery interfaces.
package ingest
