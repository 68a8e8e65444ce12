package badger

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/marmos91/fsstore/pkg/store/index"
	"github.com/marmos91/fsstore/pkg/timestamp"
)

// recordV1 is the on-disk layout of an index.Record.
//
// Integer keys keep the encoding compact; the field numbers are part of the
// format and must not be reused.
type recordV1 struct {
	Time     uint64 `cbor:"1,keyasint"`
	WriterID []byte `cbor:"2,keyasint"`
	Encoding string `cbor:"3,keyasint,omitempty"`
	Deleted  bool   `cbor:"4,keyasint,omitempty"`
}

// encodeRecord serializes a record for storage.
func encodeRecord(rec index.Record) ([]byte, error) {
	id := rec.Timestamp.ID
	data, err := cbor.Marshal(recordV1{
		Time:     rec.Timestamp.Time,
		WriterID: id[:],
		Encoding: rec.Encoding,
		Deleted:  rec.Deleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// decodeRecord deserializes a stored record.
func decodeRecord(data []byte) (index.Record, error) {
	var v recordV1
	if err := cbor.Unmarshal(data, &v); err != nil {
		return index.Record{}, fmt.Errorf("failed to decode record: %w", err)
	}

	id, err := uuid.FromBytes(v.WriterID)
	if err != nil {
		return index.Record{}, fmt.Errorf("failed to decode writer id: %w", err)
	}

	return index.Record{
		Timestamp: timestamp.Timestamp{Time: v.Time, ID: id},
		Encoding:  v.Encoding,
		Deleted:   v.Deleted,
	}, nil
}
