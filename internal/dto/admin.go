package dto

// SetApprovalRequest toggles a user's party-access approval.
type SetApprovalRequest struct {
	UserID     string `json:"userId" validate:"required"`
	IsApproved *bool  `json:"isApproved" validate:"required"`
}

// SetRoleRequest grants or revokes the admin privilege.
type SetRoleRequest struct {
	UserID       string `json:"userId" validate:"required"`
	IsSuperAdmin *bool  `json:"isSuperAdmin" validate:"required"`
}

// ListUsersQuery pages through identities. Search matches email and name
// attributes; Approved is one of all, approved or not_approved.
type ListUsersQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Search   string `form:"search"`
	Approved string `form:"approved"`
}
