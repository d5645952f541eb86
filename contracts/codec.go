package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serializes a message for queue backends that carry bytes
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode parses a message produced by Encode.
// Numbers are kept as json.Number so integer tags survive the round trip.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("failed to decode message: null payload")
	}
	return msg, nil
}
