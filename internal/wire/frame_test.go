package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/types"
)

func TestEncode_RegisterShape(t *testing.T) {
	b, err := Encode(Register("v1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"register","vendorId":"v1"}`, string(b))
}

func TestEncode_LocationUpdateShape(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err := Encode(LocationUpdate("v1", 31.5, 74.3, at))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "location_update", raw["type"])
	assert.Equal(t, "v1", raw["vendorId"])
	assert.Equal(t, "2026-01-02T03:04:05Z", raw["timestamp"])
	loc := raw["location"].(map[string]any)
	assert.Equal(t, 31.5, loc["latitude"])
	assert.Equal(t, 74.3, loc["longitude"])
}

func TestDecode_NewMessage(t *testing.T) {
	f, err := Decode([]byte(`{"type":"new_message","conversationId":"c7","message":{"id":"m1","conversationId":"c7","senderType":"user","body":"hi","createdAt":"2026-01-01T00:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeNewMessage, f.Type)
	assert.Equal(t, "m1", f.Message.ID)
	assert.Equal(t, types.SenderUser, f.Message.SenderType)
}

func TestDecode_Malformed(t *testing.T) {
	for name, in := range map[string]string{
		"not json":        `{"type":`,
		"no type":         `{"vendorId":"v1"}`,
		"message no id":   `{"type":"new_message","conversationId":"c7","message":{}}`,
		"update no coord": `{"type":"location_update","vendorId":"v1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, perrors.ErrProtocol), "got %v", err)
		})
	}
}

func TestDecode_UnknownTypePassesThrough(t *testing.T) {
	f, err := Decode([]byte(`{"type":"booking_created"}`))
	require.NoError(t, err)
	assert.Equal(t, "booking_created", f.Type)
}
