package executor

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewClientOrderID builds a client order ID that embeds the strategy and the
// signal fingerprint: "<strategy>.<fingerprint>.<ulid>". Because the venue
// echoes client IDs back on status records, a restarted process can parse its
// own orders out of a bulk listing and rebuild the idempotency ledger without
// local state. Strategy IDs must not contain dots; config validation enforces
// that.
func NewClientOrderID(strategyID, fingerprint string) string {
	return strategyID + "." + fingerprint + "." + ulid.Make().String()
}

// ParsedClientID is the decoded form of an engine-issued client order ID.
type ParsedClientID struct {
	StrategyID  string
	Fingerprint string
	Nonce       string
}

// ParseClientOrderID decodes a client order ID previously issued by
// NewClientOrderID. Orders placed by other systems fail to parse and are
// ignored during reconciliation.
func ParseClientOrderID(id string) (ParsedClientID, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ParsedClientID{}, fmt.Errorf("executor: unrecognized client order id %q", id)
	}
	return ParsedClientID{
		StrategyID:  parts[0],
		Fingerprint: parts[1],
		Nonce:       parts[2],
	}, nil
}
