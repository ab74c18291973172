// Package services holds the ingestion pipeline, the queue consumer and
// publisher, grounded retrieval, and settings. Services implement the
// driving ports and reach infrastructure only through driven ports.
package services
