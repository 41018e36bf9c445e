package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Attribute keys stored on identities.
const (
	AttrIsSuperAdmin     = "is_super_admin"
	AttrApprovedForParty = "approved_for_party"
	AttrNome             = "nome"
	AttrCognome          = "cognome"
	AttrTelefono         = "telefono"
	AttrFirstName        = "first_name"
	AttrLastName         = "last_name"
)

// Attributes is a free-form JSONB attribute set.
type Attributes map[string]interface{}

// Value implements driver.Valuer.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Attributes) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = Attributes{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attributes: unsupported scan type %T", src)
	}
	out := Attributes{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("attributes: %w", err)
		}
	}
	*a = out
	return nil
}

// Bool reads a boolean attribute; missing or non-boolean values are false.
func (a Attributes) Bool(key string) bool {
	v, ok := a[key].(bool)
	return ok && v
}

// String reads a string attribute.
func (a Attributes) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Identity is an account known to the access provider.
type Identity struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	AppMetadata  Attributes `db:"app_metadata" json:"app_metadata"`
	UserMetadata Attributes `db:"user_metadata" json:"user_metadata"`
	LastSignInAt *time.Time `db:"last_sign_in_at" json:"last_sign_in_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// IsSuperAdmin reports the stored privilege flag.
func (i *Identity) IsSuperAdmin() bool {
	return i != nil && i.AppMetadata.Bool(AttrIsSuperAdmin)
}

// ApprovedForParty reports the party-access approval flag.
func (i *Identity) ApprovedForParty() bool {
	return i != nil && i.UserMetadata.Bool(AttrApprovedForParty)
}

// DisplayName prefers "nome cognome" and falls back to the email local part.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	nome := strings.TrimSpace(i.UserMetadata.String(AttrNome))
	cognome := strings.TrimSpace(i.UserMetadata.String(AttrCognome))
	if nome != "" && cognome != "" {
		return nome + " " + cognome
	}
	if at := strings.IndexByte(i.Email, '@'); at > 0 {
		return i.Email[:at]
	}
	return i.Email
}

// IdentityFilter captures search and paging criteria for listing identities.
// Search matches email and name attributes; Approved, when set, keeps only
// identities whose approved_for_party flag is (or is not) true.
type IdentityFilter struct {
	Search   string
	Approved *bool
	Page     int
	PageSize int
}

// Principal is the caller admitted by the access guard.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// AccessDecision is the outcome of an access check.
type AccessDecision struct {
	Allowed     bool   `json:"allowed"`
	Redirect    string `json:"redirect,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Policy      string `json:"policy,omitempty"`
}
