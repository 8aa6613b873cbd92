package session

import "time"

// DeviceInfo describes the device that holds a session. Display only.
type DeviceInfo struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"` // desktop, mobile, tablet, cli
	Name      string `json:"name,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// LocationInfo is a coarse location derived from the client IP. Display only.
type LocationInfo struct {
	IP      string `json:"ip,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// AuthorityRecord is the single mutable slot per account that names the
// currently authorized session token.
type AuthorityRecord struct {
	AccountID   int64        `json:"account_id"`
	ActiveToken Token        `json:"active_token"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Device      DeviceInfo   `json:"device"`
	Location    LocationInfo `json:"location"`
}

// RecordView is the client-facing projection of an AuthorityRecord. It carries
// a digest of the active token instead of the token itself.
type RecordView struct {
	AccountID   int64        `json:"account_id"`
	TokenDigest string       `json:"token_digest"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Device      DeviceInfo   `json:"device"`
	Location    LocationInfo `json:"location"`
}

// View projects the record for clients.
func (r *AuthorityRecord) View() RecordView {
	return RecordView{
		AccountID:   r.AccountID,
		TokenDigest: r.ActiveToken.Digest(),
		UpdatedAt:   r.UpdatedAt,
		Device:      r.Device,
		Location:    r.Location,
	}
}

// OwnedBy reports whether local is the token this view was projected from.
func (v RecordView) OwnedBy(local Token) bool {
	if local.IsZero() || v.TokenDigest == "" {
		return false
	}
	return digestEqual(local.Digest(), v.TokenDigest)
}

// Change is delivered to subscribers after a record was written.
type Change struct {
	AccountID int64     `json:"account_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reason tells the re-authentication page why a device was signed out.
type Reason string

const (
	// ReasonConflict means another device signed in to the account.
	ReasonConflict Reason = "conflict"
	// ReasonExpired means the device no longer holds a local token.
	ReasonExpired Reason = "expired"
)

// Valid reports whether r is a known reason code.
func (r Reason) Valid() bool {
	return r == ReasonConflict || r == ReasonExpired
}
