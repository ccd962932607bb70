package models

import "github.com/uptrace/bun"

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleAdmin   UserRole = "admin"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          string   `bun:"id,pk" json:"id"`
	Username    string   `bun:"username,notnull" json:"username"`
	StudentCode string   `bun:"student_code,notnull" json:"student_code"`
	Role        UserRole `bun:"role,notnull" json:"role"`
}

func (u *User) IsStaff() bool {
	return u.Role == RoleAdmin
}
