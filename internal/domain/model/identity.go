// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// IdentityClass is the entitlement tier of a caller. It is assigned once by
// the trusted auth boundary and carried on IdentityContext.
type IdentityClass string

// Known identity classes.
const (
	ClassAnonymous IdentityClass = "anonymous"
	ClassTrial     IdentityClass = "trial"
	ClassPaid      IdentityClass = "paid"
	ClassAdmin     IdentityClass = "admin"
)

// ParseClass maps a raw string onto a known class. Anything unrecognized
// becomes ClassAnonymous.
func ParseClass(raw string) IdentityClass {
	switch IdentityClass(strings.ToLower(strings.TrimSpace(raw))) {
	case ClassTrial:
		return ClassTrial
	case ClassPaid:
		return ClassPaid
	case ClassAdmin:
		return ClassAdmin
	default:
		return ClassAnonymous
	}
}

// Known reports whether c is one of the defined classes.
func (c IdentityClass) Known() bool {
	switch c {
	case ClassAnonymous, ClassTrial, ClassPaid, ClassAdmin:
		return true
	}
	return false
}

// FingerprintMethod records how an identity's fingerprint was derived.
type FingerprintMethod string

// Fingerprint derivation methods, strongest first.
const (
	MethodPreferred FingerprintMethod = "preferred"
	MethodFallback  FingerprintMethod = "fallback"
	MethodRandom    FingerprintMethod = "random"
)

// DeviceSignals are the browser/device characteristics a fingerprint is
// computed from. Empty fields mean the signal was not observable.
type DeviceSignals struct {
	UserAgent           string `json:"user_agent"`
	Screen              string `json:"screen"`
	Timezone            string `json:"timezone"`
	Language            string `json:"language"`
	CanvasSignature     string `json:"canvas_signature,omitempty"`
	Platform            string `json:"platform,omitempty"`
	HardwareConcurrency int    `json:"hardware_concurrency,omitempty"`
	DeviceMemoryGB      int    `json:"device_memory_gb,omitempty"`
	ColorDepth          int    `json:"color_depth,omitempty"`
	TouchPoints         int    `json:"touch_points,omitempty"`
}

// Identity is a pseudo-durable handle for an anonymous caller.
type Identity struct {
	VisitorID   string            `json:"visitor_id"`
	Fingerprint string            `json:"fingerprint"`
	Method      FingerprintMethod `json:"method"`
	// Degraded is set when no deterministic fingerprint could be computed.
	Degraded  bool          `json:"degraded"`
	Device    DeviceSignals `json:"device"`
	CreatedAt time.Time     `json:"created_at"`
}

// Principal is what the auth collaborator asserts about a caller. A zero
// Principal is a guest.
type Principal struct {
	UserID string
	Class  IdentityClass
	Plan   string
}

// Guest reports whether the principal carries no authenticated user.
func (p Principal) Guest() bool { return strings.TrimSpace(p.UserID) == "" }

// IdentityContext is the resolved caller handle passed to every metered
// operation.
type IdentityContext struct {
	Key      string        `json:"identity_key"`
	Class    IdentityClass `json:"identity_class"`
	Plan     string        `json:"plan,omitempty"`
	Identity Identity      `json:"identity"`
}

// Admin reports whether the caller holds the administrative class.
func (c IdentityContext) Admin() bool { return c.Class == ClassAdmin }

// Degraded reports whether the caller's identity fell back to a random
// fingerprint.
func (c IdentityContext) Degraded() bool { return c.Identity.Degraded }
