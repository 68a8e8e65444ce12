// Package timestamp implements the logical timestamps attached to every
// stored sample: a 64-bit NTP time paired with the identity of the writer
// that produced it.
package timestamp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTimestamp is returned by Parse for malformed input.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// Timestamp is totally ordered: first by Time, then by ID bytes.
//
// Time uses the NTP64 layout: the upper 32 bits count seconds since
// 1900-01-01 UTC, the lower 32 bits are a binary fraction of a second.
type Timestamp struct {
	Time uint64
	ID   uuid.UUID
}

// New builds a timestamp from a wall-clock time and a writer ID.
func New(t time.Time, id uuid.UUID) Timestamp {
	return Timestamp{Time: ToNTP64(t), ID: id}
}

// FromTime builds a timestamp with a nil writer ID, used for files whose
// only provenance is their modification time.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Time: ToNTP64(t)}
}

// ToNTP64 converts t to the NTP64 representation.
func ToNTP64(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

// FromNTP64 converts an NTP64 value to a wall-clock time.
func FromNTP64(v uint64) time.Time {
	secs := int64(v>>32) - ntpEpochOffset
	nanos := ((v & 0xFFFFFFFF) * uint64(time.Second)) >> 32
	return time.Unix(secs, int64(nanos)).UTC()
}

// WallTime returns the physical component as a time.Time.
func (t Timestamp) WallTime() time.Time {
	return FromNTP64(t.Time)
}

// IsZero reports whether t carries no information.
func (t Timestamp) IsZero() bool {
	return t.Time == 0 && t.ID == uuid.Nil
}

// Compare returns -1, 0 or +1.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Time < o.Time:
		return -1
	case t.Time > o.Time:
		return 1
	}
	return bytes.Compare(t.ID[:], o.ID[:])
}

func (t Timestamp) Before(o Timestamp) bool {
	return t.Compare(o) < 0
}

func (t Timestamp) After(o Timestamp) bool {
	return t.Compare(o) > 0
}

// Add shifts the physical component by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{Time: ToNTP64(t.WallTime().Add(d)), ID: t.ID}
}

// String renders "<ntp64>/<id-hex>", which Parse reads back exactly.
func (t Timestamp) String() string {
	return strconv.FormatUint(t.Time, 10) + "/" + strings.ReplaceAll(t.ID.String(), "-", "")
}

// Parse reads the String form.
func Parse(s string) (Timestamp, error) {
	timePart, idPart, ok := strings.Cut(s, "/")
	if !ok {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	v, err := strconv.ParseUint(timePart, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, s, err)
	}

	id, err := uuid.Parse(idPart)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, s, err)
	}

	return Timestamp{Time: v, ID: id}, nil
}
