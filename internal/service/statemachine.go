package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

// party is the relation between an actor and a trip.
type party string

const (
	partyRequester      party = "requester"
	partyAnyDriver      party = "driver"
	partyAssignedDriver party = "assigned_driver"
	partyAdmin          party = "admin"
	partySystem         party = "system"
)

type transitionRule struct {
	From    domain.TripStatus
	To      domain.TripStatus
	Parties []party
}

// transitionTable is the only place that decides which edges exist and who
// may walk them. Everything not listed is an invalid transition.
var transitionTable = []transitionRule{
	{domain.TripStatusRequested, domain.TripStatusAssigned, []party{partyAnyDriver, partyAdmin}},
	{domain.TripStatusAssigned, domain.TripStatusDriverArrived, []party{partyAssignedDriver, partyAdmin}},
	{domain.TripStatusDriverArrived, domain.TripStatusInProgress, []party{partyAssignedDriver, partyAdmin}},
	{domain.TripStatusInProgress, domain.TripStatusCompleted, []party{partyAssignedDriver, partyAdmin}},
	{domain.TripStatusRequested, domain.TripStatusCancelled, []party{partyRequester, partyAdmin, partySystem}},
	{domain.TripStatusAssigned, domain.TripStatusCancelled, []party{partyRequester, partyAssignedDriver, partyAdmin}},
	{domain.TripStatusDriverArrived, domain.TripStatusCancelled, []party{partyRequester, partyAssignedDriver, partyAdmin}},
}

func lookupRule(from, to domain.TripStatus) (transitionRule, bool) {
	for _, r := range transitionTable {
		if r.From == from && r.To == to {
			return r, true
		}
	}
	return transitionRule{}, false
}

// CanTransition reports whether the lifecycle has an edge from -> to.
func CanTransition(from, to domain.TripStatus) bool {
	_, ok := lookupRule(from, to)
	return ok
}

// partiesOf lists every relation the actor has to the trip.
func partiesOf(actor domain.Actor, trip *domain.Trip) []party {
	var out []party
	switch actor.Role {
	case domain.RoleAdmin:
		out = append(out, partyAdmin)
	case domain.RoleSystem:
		out = append(out, partySystem)
	case domain.RoleDriver:
		out = append(out, partyAnyDriver)
		if trip.DriverID != "" && trip.DriverID == actor.UserID {
			out = append(out, partyAssignedDriver)
		}
	}
	if actor.UserID != "" && actor.UserID == trip.RequesterID && actor.Role == domain.RoleRider {
		out = append(out, partyRequester)
	}
	return out
}

func (r transitionRule) permits(actor domain.Actor, trip *domain.Trip) bool {
	for _, have := range partiesOf(actor, trip) {
		for _, want := range r.Parties {
			if have == want {
				return true
			}
		}
	}
	return false
}

// checkTransition validates the edge and the actor for a trip.
func checkTransition(trip *domain.Trip, to domain.TripStatus, actor domain.Actor) error {
	rule, ok := lookupRule(trip.Status, to)
	if !ok {
		return fmt.Errorf("%w: trip %s is %s, cannot become %s", domain.ErrInvalidTransition, trip.ID, trip.Status, to)
	}
	if !rule.permits(actor, trip) {
		return fmt.Errorf("%w: %s %s may not move trip %s to %s", domain.ErrUnauthorized, actor.Role, actor.UserID, trip.ID, to)
	}
	return nil
}

// TransitionRequest asks for one trip to move to a new status.
type TransitionRequest struct {
	TripID string
	Actor  domain.Actor
	To     domain.TripStatus
	Reason string
}

// TransitionResult is what an accepted transition produced.
type TransitionResult struct {
	Trip       *domain.Trip
	From       domain.TripStatus
	Settlement *Settlement
}

// TripStateMachine owns trip status. Each transition runs in one store
// transaction: the trip row is locked, the edge and actor are checked, side
// effects are applied, and the row is written with a compare-and-set on
// (status, status_version).
type TripStateMachine struct {
	store  repository.Store
	ledger *Ledger
	now    func() time.Time
}

// NewTripStateMachine creates a new TripStateMachine.
func NewTripStateMachine(store repository.Store, ledger *Ledger) *TripStateMachine {
	return &TripStateMachine{
		store:  store,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Transition applies one lifecycle step. Assignment goes through
// AssignmentCoordinator.Claim instead.
func (m *TripStateMachine) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}
	if req.To == domain.TripStatusAssigned {
		return nil, fmt.Errorf("%w: assignment requires a claim", domain.ErrInvalidTransition)
	}

	var result *TransitionResult
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		trip, err := tx.Trips().GetForUpdate(ctx, req.TripID)
		if err != nil {
			return notFound(err, "trip", req.TripID)
		}
		if err := checkTransition(trip, req.To, req.Actor); err != nil {
			return err
		}

		from := trip.Status
		now := m.now()
		next := trip.Clone()
		next.Status = req.To
		next.UpdatedAt = now

		var settlement *Settlement
		switch req.To {
		case domain.TripStatusDriverArrived:
			next.ArrivedAt = now
		case domain.TripStatusInProgress:
			next.StartedAt = now
		case domain.TripStatusCompleted:
			// Settlement is part of this transaction; if it fails nothing below
			// is written and the trip stays IN_PROGRESS.
			settlement, err = m.ledger.SettleTripTx(ctx, tx, SettleRequest{
				TripID:   trip.ID,
				Gross:    trip.EstimatedFare,
				DriverID: trip.DriverID,
				PayerID:  trip.RequesterID,
			})
			if err != nil {
				return err
			}
			next.CompletedAt = now
			next.FinalFare = &settlement.Gross
			next.Commission = &settlement.Commission
		case domain.TripStatusCancelled:
			next.CancelledAt = now
			next.CancelReason = req.Reason
			next.CancelledBy = req.Actor.Role
			if err := tx.Assignments().SupersedeByTrip(ctx, trip.ID, now); err != nil {
				return fmt.Errorf("supersede assignment: %w", err)
			}
		}

		swapped, err := tx.Trips().CompareAndSwap(ctx, next, from, trip.StatusVersion)
		if err != nil {
			return fmt.Errorf("update trip: %w", err)
		}
		if !swapped {
			return fmt.Errorf("%w: trip %s changed concurrently", domain.ErrInvalidTransition, trip.ID)
		}

		// A driver who went offline during the trip stays offline.
		if next.Status.Terminal() && next.DriverID != "" {
			if _, err := tx.Drivers().UpdateStatusIf(ctx, next.DriverID, domain.DriverStatusOnline, domain.DriverStatusOnTrip); err != nil {
				return fmt.Errorf("release driver: %w", err)
			}
		}

		if err := appendTripEvent(ctx, tx, next.ID, from, next.Status, req.Actor, now); err != nil {
			return err
		}

		result = &TransitionResult{Trip: next, From: from, Settlement: settlement}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("trip transitioned",
		zap.String("trip_id", result.Trip.ID),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.Trip.Status)),
		zap.String("actor_id", req.Actor.UserID),
		zap.String("actor_role", string(req.Actor.Role)),
	)
	return result, nil
}

func appendTripEvent(ctx context.Context, tx repository.Store, tripID string, from, to domain.TripStatus, actor domain.Actor, at time.Time) error {
	err := tx.Trips().AppendEvent(ctx, &domain.TripEvent{
		ID:         uuid.New().String(),
		TripID:     tripID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		CreatedAt:  at,
	})
	if err != nil {
		return fmt.Errorf("append trip event: %w", err)
	}
	return nil
}
