package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
)

func TestCodecDecode(t *testing.T) {
	codec := NewCodec()

	tests := []struct {
		name     string
		input    string
		wantType string
		wantID   string
		wantErr  bool
	}{
		{
			name:     "stream started with client id",
			input:    `{"type":"stream_started","streamId":"srv-1","clientStreamId":"stream_a"}`,
			wantType: TypeStreamStarted,
			wantID:   "srv-1",
		},
		{
			name:     "heartbeat without stream",
			input:    `{"type":"heartbeat"}`,
			wantType: TypeHeartbeat,
		},
		{
			name:     "feature fields are tolerated",
			input:    `{"type":"progress","streamId":"s","percent":40,"payload":{"step":2}}`,
			wantType: TypeProgress,
			wantID:   "s",
		},
		{name: "invalid json", input: `{invalid}`, wantErr: true},
		{name: "missing type", input: `{"streamId":"s"}`, wantErr: true},
		{name: "json null", input: `null`, wantErr: true},
		{name: "array", input: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Decode([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, rterrors.ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantID, got.StreamID)
			assert.Equal(t, tt.input, string(got.Raw))
		})
	}
}

func TestCodecEncodeStartStream(t *testing.T) {
	codec := NewCodec()

	params, err := RawValue(map[string]any{"topic": "AI", "platform": "youtube"})
	require.NoError(t, err)

	data, err := codec.Encode(StartStream("stream_x", KindScriptGeneration, params))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "start_stream", decoded["type"])
	assert.Equal(t, "stream_x", decoded["streamId"])
	assert.Equal(t, "script_generation", decoded["kind"])
	assert.Equal(t, map[string]any{"topic": "AI", "platform": "youtube"}, decoded["params"])
	assert.NotContains(t, decoded, "payload")
	assert.NotContains(t, decoded, "Raw")
}

func TestCodecEncodeRequiresType(t *testing.T) {
	_, err := NewCodec().Encode(Envelope{StreamID: "s"})
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	env, err := NewCodec().Decode([]byte(`{"type":"result","streamId":"s","payload":{"script":"hello","words":1}}`))
	require.NoError(t, err)

	var out struct {
		Script string `json:"script"`
		Words  int    `json:"words"`
	}
	require.NoError(t, env.DecodePayload(&out))
	assert.Equal(t, "hello", out.Script)
	assert.Equal(t, 1, out.Words)

	assert.NoError(t, Envelope{Type: TypeHeartbeat}.DecodePayload(&out))
}

func TestRawValue(t *testing.T) {
	raw, err := RawValue(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	passthrough := json.RawMessage(`{"a":1}`)
	raw, err = RawValue(passthrough)
	require.NoError(t, err)
	assert.Equal(t, passthrough, raw)
}

func TestEnvelopeClassification(t *testing.T) {
	assert.True(t, Envelope{Type: TypeStreamStarted}.IsControl())
	assert.True(t, Envelope{Type: TypeError}.IsControl())
	assert.False(t, Envelope{Type: TypeProgress}.IsControl())
	assert.False(t, Heartbeat().HasStream())
	assert.True(t, StopStream("s").HasStream())
}
