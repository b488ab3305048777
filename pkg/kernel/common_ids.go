package kernel

import "github.com/google/uuid"

type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }

// GenerateUserID returns a fresh random user id.
func GenerateUserID() UserID { return UserID(uuid.NewString()) }
