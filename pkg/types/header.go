package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrMalformedHeader = errors.New("malformed healthcheck header")

// Header is the identity metadata attached to every HealthCheck message.
type Header struct {
	GroupID          string `json:"groupId"`
	EmitterID        string `json:"emitterId"`
	SessionTimestamp int64  `json:"sessionTimestamp"`
	RecordTimestamp  int64  `json:"recordTimestamp"`
	Version          int    `json:"version"`
}

// wireHeader keeps pointers so that absent fields can be told apart from zero values.
type wireHeader struct {
	GroupID          *string `json:"groupId"`
	EmitterID        *string `json:"emitterId"`
	SessionTimestamp *int64  `json:"sessionTimestamp"`
	RecordTimestamp  *int64  `json:"recordTimestamp"`
	Version          *int    `json:"version"`
}

// ParseHeader decodes and validates a serialized header. Every field must be present.
func ParseHeader(data []byte) (Header, error) {
	var w wireHeader
	if err := json.Unmarshal(data, &w); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	var missing []string
	if w.GroupID == nil {
		missing = append(missing, "groupId")
	}
	if w.EmitterID == nil {
		missing = append(missing, "emitterId")
	}
	if w.SessionTimestamp == nil {
		missing = append(missing, "sessionTimestamp")
	}
	if w.RecordTimestamp == nil {
		missing = append(missing, "recordTimestamp")
	}
	if w.Version == nil {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return Header{}, fmt.Errorf("%w: missing %v", ErrMalformedHeader, missing)
	}

	h := Header{
		GroupID:          *w.GroupID,
		EmitterID:        *w.EmitterID,
		SessionTimestamp: *w.SessionTimestamp,
		RecordTimestamp:  *w.RecordTimestamp,
		Version:          *w.Version,
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Validate checks the field rules a header must satisfy before it may be persisted.
func (h Header) Validate() error {
	switch {
	case h.GroupID == "":
		return fmt.Errorf("%w: empty groupId", ErrMalformedHeader)
	case h.EmitterID == "":
		return fmt.Errorf("%w: empty emitterId", ErrMalformedHeader)
	case h.SessionTimestamp < 0:
		return fmt.Errorf("%w: negative sessionTimestamp %d", ErrMalformedHeader, h.SessionTimestamp)
	case h.RecordTimestamp < 0:
		return fmt.Errorf("%w: negative recordTimestamp %d", ErrMalformedHeader, h.RecordTimestamp)
	case h.Version < 1:
		return fmt.Errorf("%w: version %d", ErrMalformedHeader, h.Version)
	}
	if _, err := uuid.Parse(h.EmitterID); err != nil {
		return fmt.Errorf("%w: emitterId %q is not a uuid", ErrMalformedHeader, h.EmitterID)
	}
	return nil
}

// UniqueKey is the natural key of the record: emitter:session@record.
func (h Header) UniqueKey() string {
	return fmt.Sprintf("%s:%d@%d", h.EmitterID, h.SessionTimestamp, h.RecordTimestamp)
}

func (h Header) String() string {
	return h.UniqueKey()
}
