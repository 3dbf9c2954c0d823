// Package marketplace processes AWS Marketplace subscription notifications.
//
// Notifications arrive as SNS envelopes on an SQS queue: the SQS body is a
// JSON object whose "Message" field is itself a JSON string carrying the
// marketplace payload. The payload's action field is a closed set; anything
// outside it is an explicit ErrUnknownAction, never a silent fallthrough.
package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action is a marketplace notification action.
type Action string

// The closed set of marketplace actions.
const (
	ActionSubscribeSuccess   Action = "subscribe-success"
	ActionSubscribeFail      Action = "subscribe-fail"
	ActionUnsubscribePending Action = "unsubscribe-pending"
	ActionUnsubscribeSuccess Action = "unsubscribe-success"
)

// ErrUnknownAction is returned for an action outside the closed set.
var ErrUnknownAction = errors.New("unknown marketplace action")

// ParseAction validates a raw action string against the closed set.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionSubscribeSuccess, ActionSubscribeFail, ActionUnsubscribePending, ActionUnsubscribeSuccess:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Notification is a parsed marketplace notification.
type Notification struct {
	Action             Action
	CustomerIdentifier string
	ProductCode        string
	OfferIdentifier    string
	// FreeTrial reflects the isFreeTrialTermPresent field, which the
	// marketplace sends as the literal string "true" or "false".
	FreeTrial bool
}

// snsEnvelope is the outer SQS body: an SNS notification wrapper.
type snsEnvelope struct {
	Message string `json:"Message"`
}

// payload is the inner marketplace message.
type payload struct {
	Action                 string `json:"action"`
	CustomerIdentifier     string `json:"customer-identifier"`
	ProductCode            string `json:"product-code"`
	OfferIdentifier        string `json:"offer-identifier"`
	IsFreeTrialTermPresent string `json:"isFreeTrialTermPresent"`
}

// ParseNotification decodes an SQS message body (SNS envelope plus inner
// marketplace JSON) into a Notification.
func ParseNotification(body []byte) (*Notification, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode SNS envelope: %w", err)
	}
	if env.Message == "" {
		return nil, fmt.Errorf("SNS envelope has no Message field")
	}

	var p payload
	if err := json.Unmarshal([]byte(env.Message), &p); err != nil {
		return nil, fmt.Errorf("failed to decode marketplace payload: %w", err)
	}

	action, err := ParseAction(p.Action)
	if err != nil {
		return nil, err
	}
	if p.CustomerIdentifier == "" {
		return nil, fmt.Errorf("marketplace payload has no customer-identifier")
	}

	return &Notification{
		Action:             action,
		CustomerIdentifier: p.CustomerIdentifier,
		ProductCode:        p.ProductCode,
		OfferIdentifier:    p.OfferIdentifier,
		FreeTrial:          p.IsFreeTrialTermPresent == "true",
	}, nil
}
