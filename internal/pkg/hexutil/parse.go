// Package hexutil decodes the loosely formatted hex found in JSON-RPC error
// payloads, where the 0x prefix and its case vary between clients.
package hexutil

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeBytes decodes a hex string, with or without a 0x prefix.
func DecodeBytes(s string) ([]byte, error) {
	s = trimPrefix(strings.TrimSpace(s))
	if len(s)%2 == 1 {
		return nil, fmt.Errorf("odd-length hex string %q", truncate(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex %q: %w", truncate(s), err)
	}
	return b, nil
}

func trimPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
