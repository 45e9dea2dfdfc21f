package models

import (
	"encoding/json"
	"errors"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// Subscription is the JSON form of a browser PushSubscription, as produced by
// PushSubscription.toJSON() and posted to /subscribe.
type Subscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *float64 `json:"expirationTime"`
	Keys           Keys     `json:"keys"`

	// Raw is the JSON the browser produced, posted as-is when set so fields
	// beyond the ones above survive.
	Raw json.RawMessage `json:"-"`
}

// Keys holds the subscriber's ECDH public key and auth secret, both base64url.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

var (
	ErrMissingEndpoint    = errors.New("subscription endpoint is required")
	ErrInvalidEndpoint    = errors.New("subscription endpoint must be an absolute https URL")
	ErrRestrictedEndpoint = errors.New("subscription endpoint must not point at a local or private address")
	ErrMissingKeys        = errors.New("subscription keys p256dh and auth are required")
)

// Validate checks the fields the server needs to deliver a push message.
func (s Subscription) Validate() error {
	if s.Endpoint == "" {
		return ErrMissingEndpoint
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || u.Hostname() == "" || u.Scheme != "https" {
		return ErrInvalidEndpoint
	}
	if restrictedHost(u.Hostname()) {
		return ErrRestrictedEndpoint
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrMissingKeys
	}
	return nil
}

func restrictedHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return RestrictedAddr(addr)
	}
	return false
}

// RestrictedAddr reports whether a push message must never be sent to addr.
// Name-based endpoints are checked again at dial time against this.
func RestrictedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}

// PushSubscription is a stored subscription.
type PushSubscription struct {
	ID             int        `json:"id"`
	UserID         int        `json:"user_id,omitempty"`
	Endpoint       string     `json:"endpoint"`
	P256dh         string     `json:"keys_p256dh"` // Mapped from keys.p256dh
	Auth           string     `json:"keys_auth"`   // Mapped from keys.auth
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewPushSubscription maps a browser subscription to its stored form.
func NewPushSubscription(userID int, s Subscription) PushSubscription {
	ps := PushSubscription{
		UserID:   userID,
		Endpoint: s.Endpoint,
		P256dh:   s.Keys.P256dh,
		Auth:     s.Keys.Auth,
	}
	if s.ExpirationTime != nil {
		t := time.UnixMilli(int64(*s.ExpirationTime)).UTC()
		ps.ExpirationTime = &t
	}
	return ps
}

// Subscription converts the stored form back into the browser JSON shape.
func (p PushSubscription) Subscription() Subscription {
	s := Subscription{
		Endpoint: p.Endpoint,
		Keys:     Keys{P256dh: p.P256dh, Auth: p.Auth},
	}
	if p.ExpirationTime != nil {
		ms := float64(p.ExpirationTime.UnixMilli())
		s.ExpirationTime = &ms
	}
	return s
}

// Expired reports whether the browser-declared expiration time has passed.
func (p PushSubscription) Expired(now time.Time) bool {
	return p.ExpirationTime != nil && !now.Before(*p.ExpirationTime)
}
