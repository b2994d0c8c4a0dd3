package storage

import "time"

// Storage key layout. One index key lists all known namespaces, one record
// key per namespace holds its metadata and OAuth artifacts.
const (
	IndexKey        = "servers::remote"
	recordKeyPrefix = "servers::remote::"
)

// RecordKey returns the storage key for a namespace's server record.
func RecordKey(namespace string) string {
	return recordKeyPrefix + namespace
}

// TokenSet is an OAuth token response as returned by a provider's token
// endpoint.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// ClientInfo is the OAuth client registration issued by a provider during
// dynamic client registration.
type ClientInfo struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// ServerRecord is the persisted state for one namespace. Tokens and
// ClientInfo are OAuth artifacts that must never cross the trust boundary —
// use Sanitize before handing a record to a presentation layer.
type ServerRecord struct {
	Namespace   string      `json:"namespace,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
	Homepage    string      `json:"homepage,omitempty"`
	IconURL     string      `json:"icon_url,omitempty"`
	Verified    bool        `json:"verified,omitempty"`
	Tokens      *TokenSet   `json:"tokens,omitempty"`
	ClientInfo  *ClientInfo `json:"client_info,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty"`
}

// Metadata returns a copy of the record with all OAuth artifacts removed.
// Used when a reconnect must not carry a stale token snapshot back into
// storage.
func (r *ServerRecord) Metadata() *ServerRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Tokens = nil
	clone.ClientInfo = nil
	return &clone
}

// PublicServerRecord is the only server representation allowed to cross into
// the untrusted presentation layer. It carries no OAuth fields.
type PublicServerRecord struct {
	Namespace   string `json:"namespace"`
	DisplayName string `json:"display_name,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
	IconURL     string `json:"icon_url,omitempty"`
	Verified    bool   `json:"verified"`
	Connected   bool   `json:"connected"`
}

// Sanitize projects a ServerRecord into its public form, stripping OAuth
// artifacts unconditionally.
func Sanitize(r *ServerRecord, connected bool) PublicServerRecord {
	return PublicServerRecord{
		Namespace:   r.Namespace,
		DisplayName: r.DisplayName,
		Homepage:    r.Homepage,
		IconURL:     r.IconURL,
		Verified:    r.Verified,
		Connected:   connected,
	}
}
