package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Listen subscribes to the given signal bus channels and forwards every
// decodable event to the notifier until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context, bus domain.SignalBus, channels ...string) error {
	merged := make(chan []byte)
	for _, ch := range channels {
		sub, err := bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go func() {
			for payload := range sub {
				select {
				case merged <- payload:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-merged:
			evt, err := DecodeEvent(payload)
			if err != nil {
				n.logger.WarnContext(ctx, "undecodable event", slog.String("error", err.Error()))
				continue
			}
			if err := n.NotifyEvent(ctx, evt); err != nil {
				n.logger.WarnContext(ctx, "notification failed",
					slog.String("event", string(evt.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// DecodeEvent parses a bus payload, keeping numbers as json.Number so sats
// amounts above 2^53 stay exact.
func DecodeEvent(payload []byte) (domain.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var evt domain.Event
	if err := dec.Decode(&evt); err != nil {
		return domain.Event{}, fmt.Errorf("notify: decode event: %w", err)
	}
	if evt.Type == "" {
		return domain.Event{}, fmt.Errorf("notify: decode event: missing type")
	}
	return evt, nil
}
