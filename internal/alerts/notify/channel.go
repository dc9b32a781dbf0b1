package notify

import (
	"context"
	"errors"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// Channel delivers one alert to an external system.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert alerts.AlertRecord) error
}

// MultiChannel sends an alert to every configured channel.
type MultiChannel struct {
	name     string
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel reported under name.
func NewMultiChannel(name string, channels ...Channel) *MultiChannel {
	var kept []Channel
	for _, ch := range channels {
		if ch != nil {
			kept = append(kept, ch)
		}
	}
	return &MultiChannel{name: name, channels: kept}
}

// Name implements Channel.
func (m *MultiChannel) Name() string { return m.name }

// Send forwards alert to every channel and joins their errors.
func (m *MultiChannel) Send(ctx context.Context, alert alerts.AlertRecord) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
