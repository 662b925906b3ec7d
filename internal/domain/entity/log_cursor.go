package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidCursor is returned when a cursor string cannot be decoded.
var ErrInvalidCursor = errors.New("invalid log cursor")

// LogCursor marks where backward pagination resumes. Only logs strictly before
// the position (older block, or same block with a lower index) belong to the
// next page.
//
// Consumers outside the transports treat the encoded form as opaque.
type LogCursor struct {
	BlockNumber uint64
	LogIndex    uint64
}

// CursorBeforeBlock returns a cursor covering every log in blocks older than blockNumber.
func CursorBeforeBlock(blockNumber uint64) LogCursor {
	return LogCursor{BlockNumber: blockNumber, LogIndex: 0}
}

// String encodes the cursor as "0x<block>:0x<index>".
func (c LogCursor) String() string {
	return hexutil.EncodeUint64(c.BlockNumber) + ":" + hexutil.EncodeUint64(c.LogIndex)
}

// Includes reports whether r lies strictly before the cursor position.
func (c LogCursor) Includes(r LogRecord) bool {
	if r.BlockNumber != c.BlockNumber {
		return r.BlockNumber < c.BlockNumber
	}
	return r.LogIndex < c.LogIndex
}

// ParseLogCursor decodes a cursor produced by LogCursor.String.
func ParseLogCursor(s string) (LogCursor, error) {
	block, index, ok := strings.Cut(s, ":")
	if !ok {
		return LogCursor{}, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	blockNum, err := hexutil.DecodeUint64(block)
	if err != nil {
		return LogCursor{}, fmt.Errorf("%w: block %q: %v", ErrInvalidCursor, block, err)
	}
	logIndex, err := hexutil.DecodeUint64(index)
	if err != nil {
		return LogCursor{}, fmt.Errorf("%w: index %q: %v", ErrInvalidCursor, index, err)
	}
	return LogCursor{BlockNumber: blockNum, LogIndex: logIndex}, nil
}
