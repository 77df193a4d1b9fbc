package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	Dir        string `json:"dir"`
	Generation uint64 `json:"generation"`
}

func TestEncodeThenDecode(t *testing.T) {
	msg, err := encode(Event{Key: "idx", Value: notice{Dir: "/data/idx", Generation: 7}})
	require.NoError(t, err)
	assert.Equal(t, []byte("idx"), msg.Key)
	assert.JSONEq(t, `{"dir":"/data/idx","generation":7}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "application/json", string(msg.Headers[0].Value))

	got, err := DecodeJSON[notice](msg.Value)
	require.NoError(t, err)
	assert.Equal(t, notice{Dir: "/data/idx", Generation: 7}, got)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	_, err := DecodeJSON[notice]([]byte("{not json"))
	assert.ErrorContains(t, err, "decoding message")
}

func TestEncode_Unmarshalable(t *testing.T) {
	_, err := encode(Event{Key: "k", Value: make(chan int)})
	assert.Error(t, err)
}
