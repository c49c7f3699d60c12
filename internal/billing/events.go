package billing

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/lampstand/entitlements/internal/model"
)

// objectRef is a Stripe reference that arrives either as an id string or,
// when expanded, as an object carrying an id.
type objectRef string

func (r *objectRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = objectRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = objectRef(obj.ID)
	return nil
}

// checkoutSession is the subset of a Stripe checkout session we read.
type checkoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Subscription objectRef         `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionObject is the subset of a Stripe subscription we read.
type subscriptionObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// invoiceObject is the subset of a Stripe invoice we read. Newer API
// versions move the subscription under parent.subscription_details.
type invoiceObject struct {
	ID           string    `json:"id"`
	Subscription objectRef `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription objectRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (inv invoiceObject) subscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// userIDFromMetadata returns the first non-blank user id key.
func userIDFromMetadata(md map[string]string) string {
	for _, key := range model.UserIDMetadataKeys {
		if v := strings.TrimSpace(md[key]); v != "" {
			return v
		}
	}
	return ""
}
