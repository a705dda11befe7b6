package models

import (
	"fmt"
	"strings"
)

type EntityType string

const (
	EntityTypeProduct  EntityType = "PRODUCT"
	EntityTypeInvoice  EntityType = "INVOICE"
	EntityTypeStock    EntityType = "STOCK"
	EntityTypeCustomer EntityType = "CUSTOMER"
	EntityTypePayment  EntityType = "PAYMENT"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeProduct, EntityTypeInvoice, EntityTypeStock, EntityTypeCustomer, EntityTypePayment:
		return true
	}
	return false
}

func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid entity type %q", s)
	}
	return t, nil
}

type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "PENDING"
	ConflictStatusResolved ConflictStatus = "RESOLVED"
)

func (s ConflictStatus) Valid() bool {
	return s == ConflictStatusPending || s == ConflictStatusResolved
}

func ParseConflictStatus(s string) (ConflictStatus, error) {
	st := ConflictStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid conflict status %q", s)
	}
	return st, nil
}

// ResolutionAction is how a conflict was (or is requested to be) resolved.
// AUTO is recorded by the bulk auto-resolve path; callers of the resolve
// endpoint may only request the first three.
type ResolutionAction string

const (
	ResolutionUseServer   ResolutionAction = "USE_SERVER"
	ResolutionUseLocal    ResolutionAction = "USE_LOCAL"
	ResolutionManualMerge ResolutionAction = "MANUAL_MERGE"
	ResolutionAuto        ResolutionAction = "AUTO"
)

func (a ResolutionAction) Valid() bool {
	switch a {
	case ResolutionUseServer, ResolutionUseLocal, ResolutionManualMerge, ResolutionAuto:
		return true
	}
	return false
}

// RequestableAction reports whether a caller may ask for this action on the
// resolve endpoint. AUTO is reserved for the auto-resolve scan.
func (a ResolutionAction) RequestableAction() bool {
	switch a {
	case ResolutionUseServer, ResolutionUseLocal, ResolutionManualMerge:
		return true
	}
	return false
}

func ParseResolutionAction(s string) (ResolutionAction, error) {
	a := ResolutionAction(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("invalid resolution action %q", s)
	}
	return a, nil
}

type UserRole string

const (
	UserRoleAdmin  UserRole = "A"
	UserRoleOwner  UserRole = "O"
	UserRoleCommon UserRole = "C"
)
