package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Render turns an engine event into an alert. ok is false for event types
// that never warrant one.
func Render(evt domain.Event) (msg Message, ok bool) {
	d := evt.Detail
	switch evt.Type {
	case domain.EventLiquidated:
		return Message{
			Title:    "Position liquidated",
			Severity: SeverityCritical,
			Body: lines(
				"Position: "+str(d, "position_id"),
				"Owner: "+str(d, "owner"),
				"Health ratio: "+str(d, "health_ratio")+"%",
				"Seized: "+btc(d, "seized_sats"),
				"Debt repaid: "+btc(d, "debt_sats"),
				"Liquidator reward: "+btc(d, "liquidator_sats"),
				"Returned to owner: "+btc(d, "refund_sats"),
			),
		}, true
	case domain.EventWillReleased:
		return Message{
			Title:    "Inheritance released",
			Severity: SeverityWarning,
			Body: lines(
				"Owner: "+str(d, "owner"),
				"Beneficiaries paid: "+str(d, "transfers"),
				"Total: "+btc(d, "total_sats"),
			),
		}, true
	case domain.EventWillRevoked:
		return Message{
			Title:    "Will revoked",
			Severity: SeverityInfo,
			Body:     "Owner: " + str(d, "owner"),
		}, true
	case domain.EventBridgeRejected:
		return Message{
			Title:    "Bridge transfer rejected",
			Severity: SeverityCritical,
			Body: lines(
				"Message: "+evt.Subject,
				"Destination chain: "+str(d, "dest_chain"),
				"Amount: "+btc(d, "amount_sats"),
				"Funds stay debited on the source chain.",
			),
		}, true
	case domain.EventChainsChanged:
		return Message{
			Title:    "Bridge allow-list changed",
			Severity: SeverityWarning,
			Body:     fmt.Sprintf("Chain %s supported: %s", str(d, "chain"), str(d, "supported")),
		}, true
	}
	return Message{}, false
}

func lines(ls ...string) string {
	return strings.Join(ls, "\n")
}

func str(d map[string]any, key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return "?"
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// btc renders a sats field. Events that went through JSON carry numbers as
// json.Number or string; in-process events carry uint64.
func btc(d map[string]any, key string) string {
	var (
		sats uint64
		err  error
	)
	switch v := d[key].(type) {
	case uint64:
		sats = v
	case json.Number:
		sats, err = strconv.ParseUint(v.String(), 10, 64)
	case string:
		sats, err = strconv.ParseUint(v, 10, 64)
	default:
		return "?"
	}
	if err != nil {
		return "?"
	}
	return domain.FormatBTC(sats)
}
