package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Header names carried on record-change messages
const (
	HeaderTraceParent = tracing.HeaderTraceParent
	HeaderTraceState  = tracing.HeaderTraceState
	HeaderEIDs        = "eids"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	Record *models.Record
}

// RecordEnvelope is the wrapped form of a record-change message. Producers
// that cannot put EIDs in the resource itself send the resource under
// "resource" with the EIDs alongside.
type RecordEnvelope struct {
	Resource json.RawMessage `json:"resource"`
	EIDs     []string        `json:"eids,omitempty"`
}

func newIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &IncomingMessage{
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		Topic:       msg.Topic,
		TraceParent: headers[HeaderTraceParent],
		TraceState:  headers[HeaderTraceState],
	}
}

// ParseRecord parses the message value as a FHIR-shaped resource, either bare
// or wrapped in a RecordEnvelope. EIDs from the envelope and the eids header
// are tagged onto the record.
func (m *IncomingMessage) ParseRecord() error {
	if len(m.Value) == 0 {
		return mdmerror.BadRequest("empty message value")
	}

	raw := json.RawMessage(m.Value)
	var eids []string

	var envelope RecordEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err == nil && len(envelope.Resource) > 0 {
		raw = envelope.Resource
		eids = envelope.EIDs
	}

	record, err := models.ParseRecord(raw)
	if err != nil {
		return mdmerror.BadRequest("invalid record message: %v", err)
	}

	if header := m.Headers[HeaderEIDs]; header != "" {
		eids = append(eids, strings.Split(header, ",")...)
	}
	for _, eid := range eids {
		eid = strings.TrimSpace(eid)
		if eid != "" && !record.HasEID(eid) {
			record.EIDs = append(record.EIDs, eid)
		}
	}

	m.Record = record
	return nil
}

// GetRecordID returns the parsed record id, falling back to the message key
func (m *IncomingMessage) GetRecordID() string {
	if m.Record != nil {
		return m.Record.ID
	}
	return m.Key
}

// String identifies the message position for logs
func (m *IncomingMessage) String() string {
	return fmt.Sprintf("%s[%d]@%d", m.Topic, m.Partition, m.Offset)
}
