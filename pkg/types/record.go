package types

// Record is the persisted unit: header, source topic and decoded payload.
// Records are written once and never mutated.
type Record struct {
	UniqueKey        string `json:"uniqueKey" bson:"_id"`
	GroupID          string `json:"groupId" bson:"groupId"`
	EmitterID        string `json:"emitterId" bson:"emitterId"`
	SessionTimestamp int64  `json:"sessionTimestamp" bson:"sessionTimestamp"`
	RecordTimestamp  int64  `json:"recordTimestamp" bson:"recordTimestamp"`
	Version          int    `json:"version" bson:"version"`
	Topic            string `json:"topic" bson:"topic"`
	Payload          any    `json:"payload" bson:"payload"`
}

func NewRecord(topic string, h Header, payload any) Record {
	return Record{
		UniqueKey:        h.UniqueKey(),
		GroupID:          h.GroupID,
		EmitterID:        h.EmitterID,
		SessionTimestamp: h.SessionTimestamp,
		RecordTimestamp:  h.RecordTimestamp,
		Version:          h.Version,
		Topic:            topic,
		Payload:          payload,
	}
}

func (r Record) Header() Header {
	return Header{
		GroupID:          r.GroupID,
		EmitterID:        r.EmitterID,
		SessionTimestamp: r.SessionTimestamp,
		RecordTimestamp:  r.RecordTimestamp,
		Version:          r.Version,
	}
}
