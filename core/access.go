/*
access.go - Access-control evaluator

PURPOSE:
  Gates every read and write. Each indicator carries an AccessLevel (a
  closed enum); RESTRICTED indicators additionally carry per-user
  Grants. The evaluator is a pure rule chain over that enum plus the
  grant lookup - first match wins:

    1. Superuser                  -> allow
    2. No level yet               -> initialize PUBLIC, continue
    3. view and PUBLIC            -> allow
    4. UNRESTRICTED               -> allow (any action)
    5. ORGANIZATION               -> allow iff org member (any action)
    6. ORG_FULL_PUBLIC            -> view always; edit/delete iff member
    7. RESTRICTED                 -> grant's matching flag, else deny
    8. otherwise                  -> deny

TRANSITIVE CHECKS:
  A derived indicator passes only if the rule chain passes for every
  indicator in its full transitive base set. Table view requires the
  check on every member indicator.

SIDE EFFECT:
  The first check against an indicator with no stored level creates one
  (PUBLIC). Idempotent.

SEE ALSO:
  - graph.go: TransitiveBases
  - engine.go: Consults Can before user-initiated edits
*/
package core

import (
	"context"
)

// =============================================================================
// ACCESS LEVEL - Closed enum
// =============================================================================

type AccessLevel string

const (
	LevelPublic        AccessLevel = "public"
	LevelUnrestricted  AccessLevel = "unrestricted"
	LevelOrganization  AccessLevel = "organization"
	LevelRestricted    AccessLevel = "restricted"
	LevelOrgFullPublic AccessLevel = "org_full_public"
)

// ValidLevel reports whether l is one of the defined levels.
func ValidLevel(l AccessLevel) bool {
	switch l {
	case LevelPublic, LevelUnrestricted, LevelOrganization, LevelRestricted, LevelOrgFullPublic:
		return true
	}
	return false
}

type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// =============================================================================
// GRANT - Per-(user, indicator) override under RESTRICTED
// =============================================================================

type Grant struct {
	UserID      UserID
	IndicatorID IndicatorID
	CanView     bool
	CanEdit     bool
	CanDelete   bool
}

func (g *Grant) Allows(a Action) bool {
	switch a {
	case ActionView:
		return g.CanView
	case ActionEdit:
		return g.CanEdit
	case ActionDelete:
		return g.CanDelete
	}
	return false
}

// =============================================================================
// EVALUATOR
// =============================================================================

type AccessEvaluator struct {
	Store Store
	Graph *Graph
}

func NewAccessEvaluator(store Store, graph *Graph) *AccessEvaluator {
	return &AccessEvaluator{Store: store, Graph: graph}
}

// Can reports whether user may perform action on the indicator. For a
// derived indicator the rule chain must also pass on every transitive
// base: view requires view on bases, edit/delete require the same
// action on bases.
func (e *AccessEvaluator) Can(ctx context.Context, user *User, id IndicatorID, action Action) (bool, error) {
	ok, err := e.canSingle(ctx, user, id, action)
	if err != nil || !ok {
		return false, err
	}
	for _, base := range e.Graph.TransitiveBases(id) {
		ok, err := e.canSingle(ctx, user, base, action)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Require is Can returning a PermissionError on denial.
func (e *AccessEvaluator) Require(ctx context.Context, user *User, id IndicatorID, action Action) error {
	ok, err := e.Can(ctx, user, id, action)
	if err != nil {
		return err
	}
	if !ok {
		var uid UserID
		if user != nil {
			uid = user.ID
		}
		return &PermissionError{UserID: uid, IndicatorID: id, Action: action}
	}
	return nil
}

// CanViewTable requires view on every indicator in the table.
func (e *AccessEvaluator) CanViewTable(ctx context.Context, user *User, t *Table) (bool, error) {
	if user != nil && user.IsSuperuser {
		return true, nil
	}
	for _, id := range t.IndicatorIDs {
		ok, err := e.Can(ctx, user, id, ActionView)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// AccessibleIndicators returns the indicators the user may view: the
// union of all PUBLIC, UNRESTRICTED, and ORG_FULL_PUBLIC indicators,
// ORGANIZATION ones if the user is a member, and RESTRICTED ones with
// an explicit view grant.
func (e *AccessEvaluator) AccessibleIndicators(ctx context.Context, user *User) ([]*Indicator, error) {
	all, err := e.Store.ListIndicators(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil && user.IsSuperuser {
		return all, nil
	}

	var out []*Indicator
	for _, ind := range all {
		ok, err := e.inViewUnion(ctx, user, ind.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ind)
		}
	}
	return out, nil
}

// AccessibleTables returns tables reachable through the same union
// rule: a table is listed when any member indicator falls in the user's
// view union. Opening the table still applies the strict CanViewTable
// check.
func (e *AccessEvaluator) AccessibleTables(ctx context.Context, user *User) ([]*Table, error) {
	tables, err := e.Store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil && user.IsSuperuser {
		return tables, nil
	}

	var out []*Table
	for _, t := range tables {
		for _, id := range t.IndicatorIDs {
			ok, err := e.inViewUnion(ctx, user, id)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// =============================================================================
// RULE CHAIN
// =============================================================================

func (e *AccessEvaluator) canSingle(ctx context.Context, user *User, id IndicatorID, action Action) (bool, error) {
	if user != nil && user.IsSuperuser {
		return true, nil
	}

	level, err := e.levelFor(ctx, id)
	if err != nil {
		return false, err
	}

	orgMember := user != nil && user.OrgMember

	switch level {
	case LevelPublic:
		return action == ActionView, nil
	case LevelUnrestricted:
		return true, nil
	case LevelOrganization:
		return orgMember, nil
	case LevelOrgFullPublic:
		if action == ActionView {
			return true, nil
		}
		return orgMember, nil
	case LevelRestricted:
		if user == nil {
			return false, nil
		}
		grant, err := e.Store.GetGrant(ctx, user.ID, id)
		if err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return grant.Allows(action), nil
	}
	return false, nil
}

// levelFor looks up the indicator's access level, lazily initializing
// PUBLIC on first contact.
func (e *AccessEvaluator) levelFor(ctx context.Context, id IndicatorID) (AccessLevel, error) {
	level, err := e.Store.GetLevel(ctx, id)
	if err == nil {
		return level, nil
	}
	if !IsNotFound(err) {
		return "", err
	}
	if err := e.Store.SetLevel(ctx, id, LevelPublic); err != nil {
		return "", err
	}
	return LevelPublic, nil
}

// inViewUnion applies the listing union (view semantics only, no
// transitive base walk - listing mirrors the level of the indicator
// itself).
func (e *AccessEvaluator) inViewUnion(ctx context.Context, user *User, id IndicatorID) (bool, error) {
	level, err := e.levelFor(ctx, id)
	if err != nil {
		return false, err
	}
	switch level {
	case LevelPublic, LevelUnrestricted, LevelOrgFullPublic:
		return true, nil
	case LevelOrganization:
		return user != nil && user.OrgMember, nil
	case LevelRestricted:
		if user == nil {
			return false, nil
		}
		grant, err := e.Store.GetGrant(ctx, user.ID, id)
		if err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return grant.CanView, nil
	}
	return false, nil
}
