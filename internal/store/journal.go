package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/efreitasn/miniswap/internal/domain"
)

// Journal is a durable write-through log of trade records backed by
// pebble. Every committed create/update overwrites the record under
// trade/<id>, so replaying the keyspace in order reconstructs the
// final state of the arena.
type Journal struct {
	db *pebble.DB
}

// OpenJournal opens (or creates) the journal at dir.
func OpenJournal(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

// Close flushes and closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Put durably writes the record, replacing any previous version.
func (j *Journal) Put(t domain.Trade) error {
	return j.db.Set(journalKey(t.ID), encodeTrade(t), pebble.Sync)
}

// Replay invokes fn for every journaled record in ascending id order.
func (j *Journal) Replay(fn func(domain.Trade) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("trade/"),
		UpperBound: []byte("trade0"), // '0' is the byte after '/'
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		t, err := decodeTrade(iter.Value())
		if err != nil {
			return fmt.Errorf("corrupt journal record %q: %w", iter.Key(), err)
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return iter.Error()
}

// journalKey is "trade/" + big-endian id, so lexicographic key order is
// id order.
func journalKey(id uint64) []byte {
	key := make([]byte, 6+8)
	copy(key, "trade/")
	binary.BigEndian.PutUint64(key[6:], id)
	return key
}

// Status bytes for the binary encoding.
const (
	statusByteProposed byte = iota
	statusByteAgreed
	statusByteConfirmed
	statusByteCancelled
)

// Flag bits for the four monotonic booleans.
const (
	flagFromAgreed byte = 1 << iota
	flagToAgreed
	flagFromConfirmed
	flagToConfirmed
)

// binary encoding:
// [id:8][status:1][flags:1][createdAt unix nanos:8]
// then ten length-prefixed strings (uint16 big-endian length each):
// fromParty, toParty, fromAsset{registry,id}, toAsset{registry,id},
// pendingFromAsset{registry,id}, pendingToAsset{registry,id}.
func encodeTrade(t domain.Trade) []byte {
	buf := make([]byte, 18, 64)
	binary.BigEndian.PutUint64(buf[0:8], t.ID)
	buf[8] = statusToByte(t.Status)

	var flags byte
	if t.FromAgreed {
		flags |= flagFromAgreed
	}
	if t.ToAgreed {
		flags |= flagToAgreed
	}
	if t.FromConfirmed {
		flags |= flagFromConfirmed
	}
	if t.ToConfirmed {
		flags |= flagToConfirmed
	}
	buf[9] = flags
	binary.BigEndian.PutUint64(buf[10:18], uint64(t.CreatedAt.UnixNano()))

	for _, s := range tradeStrings(&t) {
		buf = appendString(buf, *s)
	}
	return buf
}

func decodeTrade(b []byte) (domain.Trade, error) {
	if len(b) < 18 {
		return domain.Trade{}, errors.New("record too short")
	}
	var t domain.Trade
	t.ID = binary.BigEndian.Uint64(b[0:8])

	status, err := statusFromByte(b[8])
	if err != nil {
		return domain.Trade{}, err
	}
	t.Status = status

	flags := b[9]
	t.FromAgreed = flags&flagFromAgreed != 0
	t.ToAgreed = flags&flagToAgreed != 0
	t.FromConfirmed = flags&flagFromConfirmed != 0
	t.ToConfirmed = flags&flagToConfirmed != 0
	t.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[10:18]))).UTC()

	rest := b[18:]
	for _, s := range tradeStrings(&t) {
		*s, rest, err = readString(rest)
		if err != nil {
			return domain.Trade{}, err
		}
	}
	if len(rest) != 0 {
		return domain.Trade{}, errors.New("trailing bytes in record")
	}
	return t, nil
}

// tradeStrings lists the variable-length fields in encoding order.
func tradeStrings(t *domain.Trade) []*string {
	return []*string{
		(*string)(&t.FromParty),
		(*string)(&t.ToParty),
		&t.FromAsset.Registry, &t.FromAsset.AssetID,
		&t.ToAsset.Registry, &t.ToAsset.AssetID,
		&t.PendingFromAsset.Registry, &t.PendingFromAsset.AssetID,
		&t.PendingToAsset.Registry, &t.PendingToAsset.AssetID,
	}
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, errors.New("truncated string length")
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, errors.New("truncated string")
	}
	return string(b[:n]), b[n:], nil
}

func statusToByte(s domain.TradeStatus) byte {
	switch s {
	case domain.TradeStatusProposed:
		return statusByteProposed
	case domain.TradeStatusAgreed:
		return statusByteAgreed
	case domain.TradeStatusConfirmed:
		return statusByteConfirmed
	default:
		return statusByteCancelled
	}
}

func statusFromByte(b byte) (domain.TradeStatus, error) {
	switch b {
	case statusByteProposed:
		return domain.TradeStatusProposed, nil
	case statusByteAgreed:
		return domain.TradeStatusAgreed, nil
	case statusByteConfirmed:
		return domain.TradeStatusConfirmed, nil
	case statusByteCancelled:
		return domain.TradeStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown status byte %d", b)
	}
}
