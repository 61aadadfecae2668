package transport

import (
	"encoding/json"
	"errors"
)

// ErrorCodec dehydrates an error for the wire and hydrates one back. It
// stands in for the JSON codec / error dehydrate-hydrate helpers spec §1
// names as an out-of-scope external collaborator.
type ErrorCodec interface {
	Dehydrate(err error) json.RawMessage
	Hydrate(raw json.RawMessage) error
}

// defaultErrorCodec carries only the error's message across the wire.
type defaultErrorCodec struct{}

type wireError struct {
	Message string `json:"message"`
}

func (defaultErrorCodec) Dehydrate(err error) json.RawMessage {
	if err == nil {
		err = errors.New("unknown error")
	}
	raw, marshalErr := json.Marshal(wireError{Message: err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"message":"unknown error"}`)
	}
	return raw
}

func (defaultErrorCodec) Hydrate(raw json.RawMessage) error {
	var we wireError
	if err := json.Unmarshal(raw, &we); err != nil || we.Message == "" {
		return errors.New("invoke error response")
	}
	return errors.New(we.Message)
}
