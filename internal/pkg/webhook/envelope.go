package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Envelope is the typed shape of a provider webhook body. The provider nests
// exactly one of payment/subscription/customer depending on the event class;
// everything the classifier needs is declared here instead of probing dynamic
// fields.
type Envelope struct {
	ID           string               `json:"id"`
	Event        string               `json:"event" validate:"required"`
	Payment      *PaymentPayload      `json:"payment,omitempty"`
	Subscription *SubscriptionPayload `json:"subscription,omitempty"`
	Customer     *CustomerPayload     `json:"customer,omitempty"`
}

type PaymentPayload struct {
	ID           string  `json:"id"`
	Customer     string  `json:"customer"`
	Subscription string  `json:"subscription"`
	Value        float64 `json:"value"`
	DueDate      string  `json:"dueDate"`
	Status       string  `json:"status"`
}

type SubscriptionPayload struct {
	ID          string  `json:"id"`
	Customer    string  `json:"customer"`
	Plan        string  `json:"plan"`
	Value       float64 `json:"value"`
	Cycle       string  `json:"cycle"`
	NextDueDate string  `json:"nextDueDate"`
	Status      string  `json:"status"`
}

type CustomerPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

const dueDateLayout = "2006-01-02"

var validate = validator.New()

// ParseEnvelope decodes and validates a raw webhook body. A body without a
// recognizable event field is malformed and worth a 400, never a retry.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	env.Event = strings.TrimSpace(env.Event)
	if err := validate.Struct(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DeliveryID returns the provider-assigned event ID, if any.
func (e *Envelope) DeliveryID() string {
	return strings.TrimSpace(e.ID)
}

func parseDueDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	t, err := time.Parse(dueDateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
