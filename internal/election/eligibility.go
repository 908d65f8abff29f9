package election

import "campusvote.org/internal/identity"

// CanVote: a student enrolled in the election's section and year, while it is open.
func CanVote(id identity.Identity, e Election) bool {
	return CanView(id, e) && e.IsActive
}

// CanView is CanVote without the open check, so closed results stay visible.
func CanView(id identity.Identity, e Election) bool {
	s, ok := identity.AsStudent(id)
	if !ok {
		return false
	}
	return s.Enrollment().Matches(e.Enrollment())
}

// CanManage reports whether id is the admin who created e.
func CanManage(id identity.Identity, e Election) bool {
	a, ok := identity.AsAdmin(id)
	if !ok {
		return false
	}
	return a.UserID != "" && a.UserID == e.CreatedBy
}
