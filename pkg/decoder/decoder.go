// Package decoder turns raw message bytes into typed values. Decoders never
// fail loudly: a bad payload yields ok=false and a log line, and the caller
// skips the message.
package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

const (
	FormatJSON  = "json"
	FormatLines = "lines"
)

// PayloadDecoder converts a message value into the source's payload shape.
type PayloadDecoder interface {
	Decode(topic string, data []byte) (any, bool)
}

// HeaderDecoder decodes the message key into a validated header.
type HeaderDecoder struct {
	logger *zap.Logger
}

func NewHeaderDecoder(logger *zap.Logger) *HeaderDecoder {
	return &HeaderDecoder{logger: util.Component(logger, "header_decoder")}
}

func (d *HeaderDecoder) Decode(topic string, data []byte) (types.Header, bool) {
	if len(data) == 0 {
		d.logger.Error("empty healthcheck header", zap.String("topic", topic))
		return types.Header{}, false
	}
	h, err := types.ParseHeader(data)
	if err != nil {
		d.logger.Error("error deserializing healthcheck header", zap.String("topic", topic), zap.Error(err))
		return types.Header{}, false
	}
	return h, true
}

// JSONDecoder decodes structured sources into a key/value map.
type JSONDecoder struct {
	logger *zap.Logger
}

func NewJSONDecoder(logger *zap.Logger) *JSONDecoder {
	return &JSONDecoder{logger: util.Component(logger, "json_decoder")}
}

func (d *JSONDecoder) Decode(topic string, data []byte) (any, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		d.logger.Warn("no data parsed", zap.String("topic", topic))
		return nil, false
	}
	if bytes.Equal(trimmed, []byte("null")) {
		d.logger.Warn("no data parsed", zap.String("topic", topic))
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		d.logger.Error("error parsing value", zap.String("topic", topic), zap.Error(err))
		return nil, false
	}
	return out, true
}

// LinesDecoder decodes line-oriented sources (a JSON array of strings).
type LinesDecoder struct {
	logger *zap.Logger
}

func NewLinesDecoder(logger *zap.Logger) *LinesDecoder {
	return &LinesDecoder{logger: util.Component(logger, "lines_decoder")}
}

func (d *LinesDecoder) Decode(topic string, data []byte) (any, bool) {
	if len(data) == 0 {
		return nil, false
	}

	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		d.logger.Error("error parsing value", zap.String("topic", topic), zap.Error(err))
		return nil, false
	}
	if len(lines) == 0 {
		d.logger.Warn("empty file lines payload", zap.String("topic", topic))
		return nil, false
	}
	return lines, true
}

// Decompressing inflates the payload before handing it to Next.
type Decompressing struct {
	Codec  string
	Next   PayloadDecoder
	logger *zap.Logger
}

func (d *Decompressing) Decode(topic string, data []byte) (any, bool) {
	if len(data) == 0 {
		return nil, false
	}
	raw, err := util.DecompressMessage(data, d.Codec)
	if err != nil {
		d.logger.Error("error decompressing value",
			zap.String("topic", topic), zap.String("codec", d.Codec), zap.Error(err))
		return nil, false
	}
	return d.Next.Decode(topic, raw)
}

// ForFormat builds the payload decoder for a source format and compression codec.
func ForFormat(format, compression string, logger *zap.Logger) (PayloadDecoder, error) {
	var dec PayloadDecoder
	switch format {
	case FormatJSON:
		dec = NewJSONDecoder(logger)
	case FormatLines:
		dec = NewLinesDecoder(logger)
	default:
		return nil, fmt.Errorf("unknown source format %q", format)
	}

	if compression == "" || compression == "none" {
		return dec, nil
	}
	if !util.ValidCompression(compression) {
		return nil, fmt.Errorf("%w: %s", util.ErrUnsupportedCompression, compression)
	}
	return &Decompressing{Codec: compression, Next: dec, logger: util.Component(logger, "decompress")}, nil
}
