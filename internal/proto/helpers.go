package proto

import (
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrEmptyFrame = errors.New("proto: empty frame")

func MustMarshal(v any) []byte {
	b, err := msgpack.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	return msgpack.Unmarshal(data, v)
}

func Encode(env Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Timestamp is the payload timestamp format, milliseconds since the epoch.
func Timestamp() int64 {
	return time.Now().UnixMilli()
}
