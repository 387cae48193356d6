package access

import (
	"github.com/tavernfolk/tavern/internal/membership"
	"github.com/tavernfolk/tavern/internal/notes"
)

// Access is the effective view/edit decision for one (actor, note)
// pair. CanEdit never holds without CanView: every rule branch that
// grants edit also grants view, and malformed overrides are rejected
// at write time.
type Access struct {
	CanView bool
	CanEdit bool
}

// resolveAccess evaluates the permission rules in strict precedence
// order; the first rule that applies wins and lower rules are never
// consulted. The ordering is the central invariant of the system:
//
//  1. author: the note's author keeps full rights, with or without a
//     current membership
//  2. owner: the table owner has full rights on every note in the table
//  3. override: an explicit per-note grant or deny, final as stored
//  4. table default: membership's fallback visibility, never edit
//  5. no membership: nothing
//
// member and override are nil when absent. The function is pure; the
// caller loads current state on every check.
func resolveAccess(note notes.Note, actorID string, member *membership.Membership, override *notes.NoteAccessOverride) Access {
	if note.AuthorID == actorID {
		return Access{CanView: true, CanEdit: true}
	}
	if member != nil && member.Role == membership.RoleOwner {
		return Access{CanView: true, CanEdit: true}
	}
	if override != nil {
		return Access{CanView: override.CanView, CanEdit: override.CanEdit}
	}
	if member != nil {
		return Access{CanView: member.DefaultCanViewNotes, CanEdit: false}
	}
	return Access{}
}

// allowsDelete applies the delete rule: author or table owner only.
// The override system never grants delete.
func allowsDelete(note notes.Note, actorID string, member *membership.Membership) bool {
	if note.AuthorID == actorID {
		return true
	}
	return member != nil && member.Role == membership.RoleOwner
}
