package nats

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/fsstore/pkg/storage"
	"github.com/marmos91/fsstore/pkg/timestamp"
	"github.com/nats-io/nats.go"
)

// Message headers.
const (
	HeaderKey       = "Fsstore-Key"
	HeaderEncoding  = "Fsstore-Encoding"
	HeaderTimestamp = "Fsstore-Timestamp"
	HeaderError     = "Fsstore-Error"
	HeaderEOS       = "Fsstore-Eos"
)

// Subject suffixes appended to the configured prefix.
const (
	kindPut    = "put"
	kindDelete = "delete"
	kindQuery  = "query"
)

var errMissingKey = errors.New("missing " + HeaderKey + " header")

// event is a decoded put or delete.
type event struct {
	Key       string
	Payload   []byte
	Encoding  string
	Timestamp timestamp.Timestamp
}

// decodeEvent reads the key, encoding and optional timestamp headers of msg.
// A missing timestamp is left zero so the storage stamps it on reception.
func decodeEvent(msg *nats.Msg) (event, error) {
	key := strings.TrimSpace(msg.Header.Get(HeaderKey))
	if key == "" {
		return event{}, errMissingKey
	}

	ev := event{
		Key:      key,
		Payload:  msg.Data,
		Encoding: msg.Header.Get(HeaderEncoding),
	}

	if raw := msg.Header.Get(HeaderTimestamp); raw != "" {
		ts, err := timestamp.Parse(raw)
		if err != nil {
			return event{}, fmt.Errorf("invalid %s header: %w", HeaderTimestamp, err)
		}
		ev.Timestamp = ts
	}

	return ev, nil
}

// decodeQuery returns the key pattern carried in the body of a query.
func decodeQuery(msg *nats.Msg) (string, error) {
	pattern := strings.TrimSpace(string(msg.Data))
	if pattern == "" {
		return "", errors.New("empty query pattern")
	}
	return pattern, nil
}

// encodeSample builds the reply carrying one sample.
func encodeSample(subject string, s storage.Sample) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = s.Payload
	msg.Header.Set(HeaderKey, s.Key)
	msg.Header.Set(HeaderEncoding, s.Encoding)
	msg.Header.Set(HeaderTimestamp, s.Timestamp.String())
	return msg
}

// ackMsg builds the reply to a put or delete.
func ackMsg(subject string, err error) *nats.Msg {
	msg := nats.NewMsg(subject)
	if err != nil {
		msg.Header.Set(HeaderError, err.Error())
	}
	return msg
}

// eosMsg builds the message terminating a query stream.
func eosMsg(subject string, err error) *nats.Msg {
	msg := ackMsg(subject, err)
	msg.Header.Set(HeaderEOS, "true")
	return msg
}

// IsEOS reports whether msg terminates a query stream.
func IsEOS(msg *nats.Msg) bool {
	return msg.Header != nil && msg.Header.Get(HeaderEOS) == "true"
}

// ReplyError returns the error carried by an ack or end-of-stream message.
func ReplyError(msg *nats.Msg) error {
	if msg.Header == nil {
		return nil
	}
	if e := msg.Header.Get(HeaderError); e != "" {
		return errors.New(e)
	}
	return nil
}
