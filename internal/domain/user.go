package domain

// UserType classifies the account holder. Child accounts are issued
// deliberately short-lived credentials.
type UserType string

const (
	UserTypeParent   UserType = "parent"
	UserTypeChild    UserType = "child"
	UserTypeEducator UserType = "educator"
)

// IsChild reports whether the account class gets the restricted token
// lifetimes.
func (t UserType) IsChild() bool { return t == UserTypeChild }

type User struct {
	ID          string   `json:"id"`
	Type        UserType `json:"type"`
	Permissions []string `json:"permissions"`
	ParentID    string   `json:"parent_id,omitempty"`
	ChildrenIDs []string `json:"children_ids,omitempty"`
}
