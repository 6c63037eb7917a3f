package reviewable

// StaffGuardian lets admins and moderators do everything, and category
// moderators act only within the categories they moderate. Everyone else
// can do nothing.
type StaffGuardian struct{}

var _ Guardian = StaffGuardian{}

func (g StaffGuardian) staff(r *Reviewable, actor Actor) bool {
	if actor.ID == "" {
		return false
	}
	if actor.Admin || actor.Moderator {
		return true
	}
	if r.CategoryID == nil {
		return false
	}
	for _, c := range actor.Categories {
		if c == *r.CategoryID {
			return true
		}
	}
	return false
}

func (g StaffGuardian) CanPerform(action Action, r *Reviewable, actor Actor) bool {
	if !g.staff(r, actor) {
		return false
	}
	// only full moderators can remove accounts
	if action.ClientAction == "delete_user" {
		return actor.Admin || actor.Moderator
	}
	return true
}

func (g StaffGuardian) CanEdit(r *Reviewable, actor Actor) bool  { return g.staff(r, actor) }
func (g StaffGuardian) CanClaim(r *Reviewable, actor Actor) bool { return g.staff(r, actor) }
func (g StaffGuardian) CanSee(r *Reviewable, actor Actor) bool   { return g.staff(r, actor) }

// AllowAll permits everything; for tests and single-moderator setups.
type AllowAll struct{}

var _ Guardian = AllowAll{}

func (AllowAll) CanPerform(Action, *Reviewable, Actor) bool { return true }
func (AllowAll) CanEdit(*Reviewable, Actor) bool            { return true }
func (AllowAll) CanClaim(*Reviewable, Actor) bool           { return true }
func (AllowAll) CanSee(*Reviewable, Actor) bool             { return true }
