// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package storesync keeps a local, queryable replica of business entities
// (locations, orders, customers) consistent with a remote authoritative
// service through throttled full reconciliation sweeps and a continuous
// live change feed.
//
// The engine is built from small pieces: a FIFO-fair MutationLock guarding
// all replica writes, one EntitySyncer per entity type for full sweeps, a
// SyncOrchestrator that throttles and fans sweeps out, one
// LiveFeedSubscriber per entity type owning a feed subscription lifecycle,
// and a ChangeEventHandler that decodes, sanitizes and applies individual
// change events.
package storesync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies one of the mirrored remote tables.
type EntityType string

const (
	EntityLocation EntityType = "locations"
	EntityOrder    EntityType = "orders"
	EntityCustomer EntityType = "customers"
)

// EntityTypes lists all mirrored entity types in sweep order.
func EntityTypes() []EntityType {
	return []EntityType{EntityLocation, EntityOrder, EntityCustomer}
}

// Record is a typed replica record. All mirrored entities implement it.
type Record interface {
	RecordID() string
	Entity() EntityType
}

// LocationRecord mirrors one store location of a tenant.
type LocationRecord struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city,omitempty"`
	Province    string `json:"province,omitempty"`
	Zip         string `json:"zip,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Active      bool   `json:"active"`
}

func (r *LocationRecord) RecordID() string   { return r.ID }
func (r *LocationRecord) Entity() EntityType { return EntityLocation }

// LineItem is one line of an order. Line items are written by the remote
// service in a separate transaction from the order row, which is why insert
// events wait a grace period before fetching the full order.
type LineItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderRecord mirrors one order. Location and customer references may dangle
// until a later sweep or event brings the parent record in.
type OrderRecord struct {
	ID              string     `json:"id"`
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	TotalPrice      float64    `json:"total_price"`
	SubtotalPrice   float64    `json:"subtotal_price"`
	TotalTax        float64    `json:"total_tax"`
	Currency        string     `json:"currency"`
	ShippingName    string     `json:"shipping_name,omitempty"`
	ShippingAddress string     `json:"shipping_address,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LocationID      *string    `json:"location_id,omitempty"`
	CustomerID      *string    `json:"customer_id,omitempty"`
	LineItems       []LineItem `json:"line_items,omitempty"`
}

func (r *OrderRecord) RecordID() string   { return r.ID }
func (r *OrderRecord) Entity() EntityType { return EntityOrder }

// CustomerRecord mirrors one customer with loyalty/spend aggregates.
type CustomerRecord struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	FirstName   string  `json:"first_name,omitempty"`
	LastName    string  `json:"last_name,omitempty"`
	OrdersCount int64   `json:"orders_count"`
	TotalSpent  float64 `json:"total_spent"`
}

func (r *CustomerRecord) RecordID() string   { return r.ID }
func (r *CustomerRecord) Entity() EntityType { return EntityCustomer }

// ChangeKind tags a live-feed event envelope.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one envelope delivered by the live-feed transport. Record
// carries the new row for inserts/updates; OldRecord carries the previous
// row for deletes. Both are loosely typed until sanitized.
type ChangeEvent struct {
	ID        uuid.UUID       `json:"id"`
	Kind      ChangeKind      `json:"kind"`
	Table     EntityType      `json:"table"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// DecodeRecord sanitizes a raw remote payload and decodes it into the typed
// record for the given entity. A record without an id is malformed.
func DecodeRecord(entity EntityType, raw json.RawMessage) (Record, error) {
	clean, err := SanitizePayload(raw)
	if err != nil {
		return nil, err
	}

	var rec Record
	switch entity {
	case EntityLocation:
		rec = &LocationRecord{}
	case EntityOrder:
		rec = &OrderRecord{}
	case EntityCustomer:
		rec = &CustomerRecord{}
	default:
		return nil, &DecodeError{Entity: entity, Cause: fmt.Errorf("unknown entity type %q", entity)}
	}

	if err := json.Unmarshal(clean, rec); err != nil {
		return nil, &DecodeError{Entity: entity, Cause: err}
	}
	if rec.RecordID() == "" {
		return nil, &DecodeError{Entity: entity, Cause: fmt.Errorf("record payload missing id")}
	}
	return rec, nil
}

// payloadID extracts just the record id from a raw payload without decoding
// the full record. Used by event handling, where only the id is trusted
// before the complete record is fetched from the gateway.
func payloadID(entity EntityType, raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", &DecodeError{Entity: entity, Cause: fmt.Errorf("empty payload")}
	}
	var probe struct {
		ID string `json:"id"`
	}
	clean, err := SanitizePayload(raw)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(clean, &probe); err != nil {
		return "", &DecodeError{Entity: entity, Cause: err}
	}
	if probe.ID == "" {
		return "", &DecodeError{Entity: entity, Cause: fmt.Errorf("payload missing id")}
	}
	return probe.ID, nil
}
