package service

import (
	"time"

	"hailing/internal/domain"
)

// EventType identifies a real-time event.
type EventType string

const (
	EventTripRequested     EventType = "trip.requested"
	EventTripAssigned      EventType = "trip.assigned"
	EventTripDriverArrived EventType = "trip.driver_arrived"
	EventTripStarted       EventType = "trip.started"
	EventTripCompleted     EventType = "trip.completed"
	EventTripCancelled     EventType = "trip.cancelled"
	EventTripLocation      EventType = "trip.location"
	EventTripUnavailable   EventType = "trip.unavailable"
	EventWalletUpdated     EventType = "wallet.updated"
)

var transitionEvents = map[domain.TripStatus]EventType{
	domain.TripStatusAssigned:      EventTripAssigned,
	domain.TripStatusDriverArrived: EventTripDriverArrived,
	domain.TripStatusInProgress:    EventTripStarted,
	domain.TripStatusCompleted:     EventTripCompleted,
	domain.TripStatusCancelled:     EventTripCancelled,
}

// Event is the envelope pushed to subscribers.
type Event struct {
	Type       EventType `json:"type"`
	TripID     string    `json:"trip_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TripPayload is the trip snapshot carried by trip events.
type TripPayload struct {
	ID            string              `json:"id"`
	Kind          domain.TripKind     `json:"kind"`
	Status        domain.TripStatus   `json:"status"`
	StatusVersion int64               `json:"status_version"`
	RequesterID   string              `json:"requester_id"`
	DriverID      string              `json:"driver_id,omitempty"`
	VehicleClass  domain.VehicleClass `json:"vehicle_class"`
	Pickup        domain.Point        `json:"pickup"`
	Dropoff       domain.Point        `json:"dropoff"`
	EstimatedFare int64               `json:"estimated_fare"`
	FinalFare     *int64              `json:"final_fare,omitempty"`
	CancelReason  string              `json:"cancel_reason,omitempty"`
}

// LocationPayload is carried by trip.location events.
type LocationPayload struct {
	DriverID string       `json:"driver_id"`
	Location domain.Point `json:"location"`
}

// WalletPayload is carried by wallet.updated events on the owner's private topic.
type WalletPayload struct {
	Balance       int64                  `json:"balance"`
	TransactionID string                 `json:"transaction_id"`
	Amount        int64                  `json:"amount"`
	Kind          domain.TransactionKind `json:"kind"`
	Reference     string                 `json:"reference"`
}

// NotificationService decides which topics see which event and hands them to
// the broadcaster.
type NotificationService struct {
	broadcaster Broadcaster
}

// NewNotificationService creates a new NotificationService. A nil broadcaster discards events.
func NewNotificationService(broadcaster Broadcaster) *NotificationService {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &NotificationService{broadcaster: broadcaster}
}

// TripRequested announces a new open trip to the trip room and to available drivers.
func (s *NotificationService) TripRequested(trip *domain.Trip) {
	ev := tripEvent(EventTripRequested, trip)
	s.broadcaster.Publish(TripTopic(trip.ID), ev)
	s.broadcaster.Publish(TopicAvailableDrivers, ev)
}

// TripTransitioned announces a status change. from is the status the trip left.
func (s *NotificationService) TripTransitioned(trip *domain.Trip, from domain.TripStatus) {
	evType, ok := transitionEvents[trip.Status]
	if !ok {
		return
	}
	ev := tripEvent(evType, trip)
	s.broadcaster.Publish(TripTopic(trip.ID), ev)

	// The trip leaves the open pool.
	if from == domain.TripStatusRequested {
		s.broadcaster.Publish(TopicAvailableDrivers, tripEvent(EventTripUnavailable, trip))
	}
	// An admin assignment has to reach a driver who is not in the trip room yet.
	if trip.Status == domain.TripStatusAssigned && trip.DriverID != "" {
		s.broadcaster.Publish(UserTopic(trip.DriverID), ev)
	}
}

// TripLocation publishes a driver position to the trip room, throttled per driver.
func (s *NotificationService) TripLocation(trip *domain.Trip, driverID string, loc domain.Point) {
	s.broadcaster.PublishThrottled("location:"+driverID, TripTopic(trip.ID), Event{
		Type:    EventTripLocation,
		TripID:  trip.ID,
		Payload: LocationPayload{DriverID: driverID, Location: loc},
	})
}

// WalletUpdated tells a wallet owner about a new ledger entry.
func (s *NotificationService) WalletUpdated(wallet *domain.Wallet, txn *domain.WalletTransaction) {
	s.broadcaster.Publish(WalletTopic(wallet.OwnerID), Event{
		Type: EventWalletUpdated,
		Payload: WalletPayload{
			Balance:       wallet.Balance,
			TransactionID: txn.ID,
			Amount:        txn.Amount,
			Kind:          txn.Kind,
			Reference:     txn.Reference,
		},
	})
}

func tripEvent(t EventType, trip *domain.Trip) Event {
	return Event{
		Type:   t,
		TripID: trip.ID,
		Payload: TripPayload{
			ID:            trip.ID,
			Kind:          trip.Kind,
			Status:        trip.Status,
			StatusVersion: trip.StatusVersion,
			RequesterID:   trip.RequesterID,
			DriverID:      trip.DriverID,
			VehicleClass:  trip.VehicleClass,
			Pickup:        trip.Pickup,
			Dropoff:       trip.Dropoff,
			EstimatedFare: trip.EstimatedFare,
			FinalFare:     trip.FinalFare,
			CancelReason:  trip.CancelReason,
		},
	}
}
