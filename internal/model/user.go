package model

// Role distinguishes the three disjoint navigation surfaces of the portal.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleAdmin      Role = "ADMIN"
)

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// User is the profile snapshot held alongside the bearer token.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// LoginResponse is returned after successful login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// RegisterRequest is the payload for creating a new account.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	FullName string `json:"full_name" validate:"omitempty,max=100"`
	Role     Role   `json:"role" validate:"required,oneof=STUDENT INSTRUCTOR"`
}

// UpdateProfileRequest is the payload for updating profile fields.
// The bearer token is unaffected by a profile update.
type UpdateProfileRequest struct {
	Email     string `json:"email" validate:"omitempty,email"`
	FullName  string `json:"full_name" validate:"omitempty,max=100"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
	Gender    string `json:"gender" validate:"omitempty,oneof=Laki-laki Perempuan"`
	Bio       string `json:"bio" validate:"omitempty,max=500"`
}

// ChangePasswordRequest is the payload for changing the account password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required,min=6,max=128"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=128"`
}
