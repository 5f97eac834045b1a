package dto

type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Role     string `json:"role" binding:"required,oneof=admin manager user"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=admin manager user"`
}

type CapabilitiesRequest struct {
	CanVerifyFaces    bool `json:"can_verify_faces"`
	CanManageUsers    bool `json:"can_manage_users"`
	CanManageAllFaces bool `json:"can_manage_all_faces"`
	CanViewAllData    bool `json:"can_view_all_data"`
}
