// Package orderstatus defines which order status changes each kind of actor
// may make.
package orderstatus

import (
	"errors"
	"fmt"
	"time"

	"github.com/safar/print-market/internal/models"
)

type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorShop     Actor = "shop"
	ActorAdmin    Actor = "admin"
)

var (
	ErrUnknownStatus = errors.New("unknown order status")
	ErrTerminal      = errors.New("order is in a terminal status")
)

type TransitionError struct {
	From  string
	To    string
	Actor Actor
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s may not move an order from %s to %s", e.Actor, e.From, e.To)
}

var forward = map[string]string{
	models.OrderStatusPending:    models.OrderStatusConfirmed,
	models.OrderStatusConfirmed:  models.OrderStatusProcessing,
	models.OrderStatusProcessing: models.OrderStatusReady,
	models.OrderStatusReady:      models.OrderStatusCompleted,
}

var cancellableBy = map[Actor]map[string]bool{
	ActorCustomer: {
		models.OrderStatusPending:   true,
		models.OrderStatusConfirmed: true,
	},
	ActorShop: {
		models.OrderStatusPending:    true,
		models.OrderStatusConfirmed:  true,
		models.OrderStatusProcessing: true,
	},
	ActorAdmin: {
		models.OrderStatusPending:    true,
		models.OrderStatusConfirmed:  true,
		models.OrderStatusProcessing: true,
		models.OrderStatusReady:      true,
	},
}

func Known(status string) bool {
	_, ok := forward[status]
	return ok || IsTerminal(status)
}

func IsTerminal(status string) bool {
	return status == models.OrderStatusCompleted || status == models.OrderStatusCancelled
}

// Transition checks that actor may move an order from one status to another.
// Shops and admins advance orders one step along the fulfillment chain;
// customers can only cancel, and only before processing starts.
func Transition(from, to string, actor Actor) error {
	if !Known(from) || !Known(to) {
		return ErrUnknownStatus
	}
	if IsTerminal(from) {
		return ErrTerminal
	}

	if to == models.OrderStatusCancelled {
		if cancellableBy[actor][from] {
			return nil
		}
		return &TransitionError{From: from, To: to, Actor: actor}
	}

	if actor != ActorCustomer && forward[from] == to {
		return nil
	}
	return &TransitionError{From: from, To: to, Actor: actor}
}

// Next returns the status that follows current on the fulfillment chain.
func Next(current string) (string, bool) {
	next, ok := forward[current]
	return next, ok
}

func NewHistory(orderID, status, changedBy, notes string, at time.Time) models.OrderStatusHistory {
	return models.OrderStatusHistory{
		OrderID:   orderID,
		Status:    status,
		ChangedBy: changedBy,
		Notes:     notes,
		CreatedAt: at.UTC(),
	}
}
