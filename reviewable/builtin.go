package reviewable

const (
	TypeFlaggedPost = "flagged_post"
	TypeQueuedPost  = "queued_post"
	TypeFlaggedUser = "flagged_user"
)

// labels are translation keys; copy lives with the client
func labelKey(id string) string   { return "reviewables.actions." + id + ".title" }
func confirmKey(id string) string { return "reviewables.actions." + id + ".confirm" }

func action(id string, verb Verb, icon, bundle string) ActionDef {
	return ActionDef{
		Action: Action{
			ID:    id,
			Verb:  verb,
			Label: labelKey(id),
			Icon:  icon,
		},
		Bundle: bundle,
	}
}

func withConfirm(a ActionDef) ActionDef {
	a.ConfirmMessage = confirmKey(a.ID)
	return a
}

func withClient(a ActionDef, client string) ActionDef {
	a.ClientAction = client
	return a
}

func withGuard(a ActionDef, guard func(*Reviewable) bool) ActionDef {
	a.Guard = guard
	return a
}

func hasPostTarget(r *Reviewable) bool {
	return r.Target.Type == "post"
}

var revertAction = withConfirm(action("revert", VerbRevert, "undo", ""))

var flaggedPostType = TypeDef{
	Name:        TypeFlaggedPost,
	PayloadKind: PayloadFlag,
	Bundles: []BundleDef{
		{ID: "agree", Icon: "thumbs-up", Label: labelKey("agree")},
		{ID: "delete", Icon: "trash-can", Label: labelKey("delete")},
	},
	Actions: []ActionDef{
		action("agree_and_keep", VerbApprove, "thumbs-up", "agree"),
		withGuard(action("agree_and_hide", VerbApprove, "far-eye-slash", "agree"), hasPostTarget),
		action("approve", VerbApprove, "check", "agree"),
		action("disagree", VerbReject, "thumbs-down", ""),
		action("reject", VerbReject, "xmark", ""),
		action("ignore", VerbIgnore, "external-link-alt", ""),
		withConfirm(action("delete_and_agree", VerbDelete, "trash-can", "delete")),
		withConfirm(action("delete", VerbDelete, "trash-can", "delete")),
		revertAction,
	},
}

var queuedPostType = TypeDef{
	Name:          TypeQueuedPost,
	PayloadKind:   PayloadPost,
	ClaimRequired: true,
	Actions: []ActionDef{
		action("approve_post", VerbApprove, "check", ""),
		action("approve", VerbApprove, "check", ""),
		withClient(action("reject_post", VerbReject, "xmark", ""), "reject_reason"),
		action("reject", VerbReject, "xmark", ""),
		withConfirm(withClient(action("delete_user", VerbDelete, "user-xmark", ""), "delete_user")),
		withConfirm(action("delete", VerbDelete, "trash-can", "")),
		revertAction,
	},
	Fields: []EditableField{
		{Name: "raw", Type: FieldText},
		{Name: "title", Type: FieldTitle},
		{Name: "category_id", Type: FieldCategory},
		{Name: "tags", Type: FieldTags},
	},
}

var flaggedUserType = TypeDef{
	Name:        TypeFlaggedUser,
	PayloadKind: PayloadUser,
	Actions: []ActionDef{
		action("approve_user", VerbApprove, "user-plus", ""),
		action("approve", VerbApprove, "check", ""),
		action("reject_user", VerbReject, "user-xmark", ""),
		action("reject", VerbReject, "xmark", ""),
		withConfirm(withClient(action("delete_user", VerbDelete, "user-xmark", ""), "delete_user")),
		withConfirm(action("delete", VerbDelete, "trash-can", "")),
		revertAction,
	},
}

// DefaultTypes are the reviewable types every queue ships with.
func DefaultTypes() []TypeDef {
	return []TypeDef{flaggedPostType, queuedPostType, flaggedUserType}
}

// DefaultCatalog builds a Catalog from DefaultTypes plus any extra types, eg
// those registered by plugins.
func DefaultCatalog(extra ...TypeDef) (*Catalog, error) {
	return NewCatalog(append(DefaultTypes(), extra...)...)
}
