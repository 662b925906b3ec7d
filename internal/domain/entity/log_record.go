// Package entity contains the core domain entities for the log feed.
// These entities carry no behaviour beyond identity, ordering and cursor encoding.
package entity

import (
	"cmp"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogKey identifies a log within a chain. It is unique across the whole log set.
type LogKey struct {
	BlockNumber uint64
	LogIndex    uint64
}

// String returns the "{blockNumber}-{logIndex}" form used as a stable track key
// by list renderers.
func (k LogKey) String() string {
	return fmt.Sprintf("%d-%d", k.BlockNumber, k.LogIndex)
}

// LogRecord is a single contract log as received from either the live feed or
// a historical page. It is immutable once constructed.
type LogRecord struct {
	BlockNumber uint64
	LogIndex    uint64

	BlockHash common.Hash
	TxHash    common.Hash
	TxIndex   uint
	Address   common.Address
	Topics    []common.Hash
	Data      []byte
}

// NewLogRecord converts a go-ethereum log into a LogRecord.
func NewLogRecord(l types.Log) LogRecord {
	topics := make([]common.Hash, len(l.Topics))
	copy(topics, l.Topics)
	data := make([]byte, len(l.Data))
	copy(data, l.Data)

	return LogRecord{
		BlockNumber: l.BlockNumber,
		LogIndex:    uint64(l.Index),
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		TxIndex:     l.TxIndex,
		Address:     l.Address,
		Topics:      topics,
		Data:        data,
	}
}

// Key returns the identity key of the record.
func (r LogRecord) Key() LogKey {
	return LogKey{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex}
}

// Position returns the cursor position of the record.
func (r LogRecord) Position() LogCursor {
	return LogCursor{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex}
}

// EqualLogs reports whether a and b share the same identity key.
// Payload fields are ignored.
func EqualLogs(a, b LogRecord) bool {
	return a.BlockNumber == b.BlockNumber && a.LogIndex == b.LogIndex
}

// CompareLogs orders records newest first: block number descending, then log
// index descending. It returns a negative value when a sorts before b.
func CompareLogs(a, b LogRecord) int {
	if c := cmp.Compare(b.BlockNumber, a.BlockNumber); c != 0 {
		return c
	}
	return cmp.Compare(b.LogIndex, a.LogIndex)
}
