// README: FCM delivery backend for notification events.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"farebid/internal/types"
)

// TokenResolver maps a recipient to their FCM device token.
type TokenResolver interface {
	DeviceToken(ctx context.Context, id types.ID) (string, error)
}

var titles = map[string]string{
	KindOfferReceived:   "New ride request",
	KindOfferExpired:    "Offer expired",
	KindCounterReceived: "Counter-offer received",
	KindCounterAccepted: "Counter-offer accepted",
	KindRideAccepted:    "Ride accepted",
	KindRideCancelled:   "Ride cancelled",
	KindAssignmentLost:  "Ride taken by another driver",
}

type FCMSender struct {
	client *messaging.Client
	tokens TokenResolver
}

func NewFCMSender(client *messaging.Client, tokens TokenResolver) *FCMSender {
	return &FCMSender{client: client, tokens: tokens}
}

func (s *FCMSender) Send(ctx context.Context, ev Event) error {
	token, err := s.tokens.DeviceToken(ctx, ev.Recipient)
	if err != nil {
		return fmt.Errorf("resolving token for %s: %w", ev.Recipient, err)
	}
	if token == "" {
		return nil // recipient has no registered device
	}

	data := map[string]string{
		"type":    ev.Kind,
		"ride_id": string(ev.RideID),
	}
	for k, v := range ev.Data {
		data[k] = v
	}
	msg := &messaging.Message{
		Token:        token,
		Data:         data,
		Notification: &messaging.Notification{Title: titles[ev.Kind]},
		Android:      &messaging.AndroidConfig{Priority: "high"},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM: %w", err)
	}
	return nil
}
