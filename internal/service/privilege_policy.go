package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/pkg/config"
)

// PrivilegePolicy decides whether an identity holds the admin privilege.
// Exactly one policy is active per process.
type PrivilegePolicy interface {
	IsAdmin(identity *models.Identity) bool
	Name() string
}

// FlagPolicy reads the stored is_super_admin attribute.
type FlagPolicy struct{}

// IsAdmin implements PrivilegePolicy.
func (FlagPolicy) IsAdmin(identity *models.Identity) bool {
	return identity.IsSuperAdmin()
}

// Name implements PrivilegePolicy.
func (FlagPolicy) Name() string { return config.PrivilegeSourceFlag }

// AllowListPolicy grants the privilege to a configured set of emails.
type AllowListPolicy struct {
	emails map[string]struct{}
}

// NewAllowListPolicy builds an allow-list policy; emails compare case-insensitively.
func NewAllowListPolicy(emails []string) *AllowListPolicy {
	set := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			set[email] = struct{}{}
		}
	}
	return &AllowListPolicy{emails: set}
}

// IsAdmin implements PrivilegePolicy.
func (p *AllowListPolicy) IsAdmin(identity *models.Identity) bool {
	if identity == nil {
		return false
	}
	_, ok := p.emails[strings.ToLower(strings.TrimSpace(identity.Email))]
	return ok
}

// Name implements PrivilegePolicy.
func (p *AllowListPolicy) Name() string { return config.PrivilegeSourceAllowList }

// NewPrivilegePolicy builds the policy selected by configuration.
func NewPrivilegePolicy(cfg config.AdminConfig) (PrivilegePolicy, error) {
	switch cfg.PrivilegeSource {
	case "", config.PrivilegeSourceFlag:
		return FlagPolicy{}, nil
	case config.PrivilegeSourceAllowList:
		if len(cfg.AllowList) == 0 {
			return nil, fmt.Errorf("allow-list privilege source requires at least one email")
		}
		return NewAllowListPolicy(cfg.AllowList), nil
	default:
		return nil, fmt.Errorf("unknown privilege source %q", cfg.PrivilegeSource)
	}
}
