// Package hexutil provides lenient parsing of Ethereum hex quantities.
//
// go-ethereum's hexutil rejects quantities without a 0x prefix or with leading
// zeros; some node providers emit both, so responses are parsed here instead.
package hexutil

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUint64 parses a hex-encoded quantity to uint64.
// Handles both "0x" prefixed and non-prefixed hex strings.
func ParseUint64(hexNum string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(hexNum, "0x"), "0X")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex quantity %q", hexNum)
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
