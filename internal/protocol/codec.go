package protocol

import (
	"errors"

	"github.com/bytedance/sonic"

	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
)

// Codec converts between envelopes and text frames.
type Codec interface {
	Encode(env Envelope) ([]byte, error)
	Decode(frame []byte) (Envelope, error)
}

// JSONCodec encodes envelopes as JSON using sonic.
type JSONCodec struct {
	api sonic.API
}

// NewCodec returns a codec compatible with encoding/json semantics.
func NewCodec() *JSONCodec {
	return &JSONCodec{api: sonic.ConfigStd}
}

// Encode serializes an envelope. Envelopes without a type are rejected.
func (c *JSONCodec) Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, errors.New("envelope type is required")
	}
	return c.api.Marshal(env)
}

// Decode parses a frame. Any frame that is not a JSON object with a
// non-empty type is reported as a MalformedFrameError.
func (c *JSONCodec) Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := c.api.Unmarshal(frame, &env); err != nil {
		return Envelope{}, &rterrors.MalformedFrameError{Size: len(frame), Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &rterrors.MalformedFrameError{Size: len(frame), Err: errors.New("missing type")}
	}
	env.Raw = frame
	return env, nil
}

var _ Codec = (*JSONCodec)(nil)
