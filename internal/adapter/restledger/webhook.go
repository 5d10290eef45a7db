package restledger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/webhook"
)

// HeaderDeliveryID carries the vendor's delivery id when the body does not.
const HeaderDeliveryID = "X-Delivery-ID"

// deliveryPayload is the ledger's webhook body, e.g.
// {"event":"payment.updated","data":{"id":"inv_9"},"delivery_id":"d-1"}.
type deliveryPayload struct {
	Event      string `json:"event"`
	DeliveryID string `json:"delivery_id"`
	Data       struct {
		ID any `json:"id"`
	} `json:"data"`
}

// NormalizeWebhook converts a ledger delivery into a change notification.
// ExternalSystemID is filled in by the caller.
func (c *Client) NormalizeWebhook(header http.Header, body []byte) (webhook.ChangeNotification, error) {
	var p deliveryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return webhook.ChangeNotification{}, fmt.Errorf("%w: restledger webhook: %w", domain.ErrValidation, err)
	}
	n := webhook.ChangeNotification{
		ExternalID: stringID(p.Data.ID),
		DeliveryID: p.DeliveryID,
		ReceivedAt: time.Now().UTC(),
		ChangeType: webhook.ChangeUnknown,
	}
	if n.DeliveryID == "" {
		n.DeliveryID = header.Get(HeaderDeliveryID)
	}
	if entityType, action, ok := strings.Cut(p.Event, "."); ok {
		n.EntityType = entityType
		switch action {
		case "created":
			n.ChangeType = webhook.ChangeCreated
		case "updated":
			n.ChangeType = webhook.ChangeUpdated
		case "deleted":
			n.ChangeType = webhook.ChangeDeleted
		}
	}
	if n.ExternalID == "" {
		return n, fmt.Errorf("%w: restledger webhook: data.id is required", domain.ErrValidation)
	}
	return n, nil
}
