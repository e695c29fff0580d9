// internal/services/notification_service.go
package services

import (
	"strings"

	"github.com/scrylabs/scry-backend/internal/events"
	"github.com/scrylabs/scry-backend/internal/models"
)

// NotificationService turns marketplace changes into events on the hub.
// Ledger events reach the hub directly from the ledger driver.
type NotificationService struct {
	hub *events.Hub
}

func NewNotificationService(hub *events.Hub) *NotificationService {
	return &NotificationService{hub: hub}
}

// TraderJoined teaches the event stream the new trader's name. The role
// snapshot is replaced, never edited.
func (s *NotificationService) TraderJoined(trader *models.Trader) {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.SetRoles(s.hub.Roles().With(map[string]string{trader.Name: trader.Account}))
}

func (s *NotificationService) ListingUploaded(listing *models.Listing, owner *models.Trader) {
	s.publish(events.KindUpload, map[string]interface{}{
		"owner":      lower(owner.Account),
		"listing_id": listing.ID.String(),
		"name":       listing.Name,
		"size":       listing.Size,
		"price":      listing.Price,
	})
}

func (s *NotificationService) PurchaseCreated(order *models.PurchaseOrder) {
	args := orderArgs(order)
	args["reward"] = order.Reward
	args["amount"] = order.Amount
	s.publish(events.KindPurchaseCreated, args)
}

func (s *NotificationService) OrderVerified(order *models.PurchaseOrder) {
	s.publish(events.KindOrderVerified, orderArgs(order))
}

func (s *NotificationService) OrderSettled(order *models.PurchaseOrder) {
	args := orderArgs(order)
	args["tx"] = order.SettlementTx
	s.publish(events.KindOrderSettled, args)
}

func (s *NotificationService) publish(kind string, args map[string]interface{}) {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.Publish(events.Event{Kind: kind, Args: args})
}

func orderArgs(order *models.PurchaseOrder) map[string]interface{} {
	args := map[string]interface{}{
		"order_id": order.ID.String(),
		"marker":   order.OpenMarker,
		"state":    string(order.State),
	}
	if order.Buyer != nil {
		args["buyer"] = lower(order.Buyer.Account)
	}
	if order.Listing != nil && order.Listing.Owner != nil {
		args["seller"] = lower(order.Listing.Owner.Account)
	}
	if order.Verifier != nil {
		args["verifier"] = lower(order.Verifier.Account)
	}
	return args
}

func lower(account string) string {
	return strings.ToLower(account)
}
