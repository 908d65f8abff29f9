package identity

import (
	"errors"
	"strings"
)

// Role is the coarse-grained capability carried by a verified identity.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// ErrInvalidIdentity is returned when claims do not describe a well-formed Admin or Student.
var ErrInvalidIdentity = errors.New("identity: invalid identity")

// Identity is a verified caller. It is either an Admin or a Student; no other
// implementations exist outside this package.
type Identity interface {
	ID() string
	Role() Role
	sealed()
}

// Enrollment is the (section, year) pair that scopes students and elections.
type Enrollment struct {
	Section string `json:"section"`
	Year    string `json:"year"`
}

func (e Enrollment) Matches(other Enrollment) bool {
	return e.Section == other.Section && e.Year == other.Year
}

// Admin manages elections. Admins carry no enrollment.
type Admin struct {
	UserID string
}

func (a Admin) ID() string { return a.UserID }
func (a Admin) Role() Role { return RoleAdmin }
func (Admin) sealed()      {}

// Student votes in elections scoped to their enrollment.
type Student struct {
	UserID  string
	Section string
	Year    string
}

func (s Student) ID() string { return s.UserID }
func (s Student) Role() Role { return RoleStudent }
func (Student) sealed()      {}

// Enrollment returns the student's enrollment key.
func (s Student) Enrollment() Enrollment {
	return Enrollment{Section: s.Section, Year: s.Year}
}

// New builds an Identity from loosely typed fields, as found in token claims.
// Admins must not carry a section or year; students must carry both.
func New(id string, role Role, section, year string) (Identity, error) {
	id = strings.TrimSpace(id)
	section = strings.TrimSpace(section)
	year = strings.TrimSpace(year)
	if id == "" {
		return nil, ErrInvalidIdentity
	}
	switch Role(strings.ToLower(string(role))) {
	case RoleAdmin:
		if section != "" || year != "" {
			return nil, ErrInvalidIdentity
		}
		return Admin{UserID: id}, nil
	case RoleStudent:
		if section == "" || year == "" {
			return nil, ErrInvalidIdentity
		}
		return Student{UserID: id, Section: section, Year: year}, nil
	default:
		return nil, ErrInvalidIdentity
	}
}

// AsAdmin narrows id to an Admin.
func AsAdmin(id Identity) (Admin, bool) {
	a, ok := id.(Admin)
	return a, ok
}

// AsStudent narrows id to a Student.
func AsStudent(id Identity) (Student, bool) {
	s, ok := id.(Student)
	return s, ok
}
