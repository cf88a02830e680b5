// Package subscription holds the subscriber state machine driven by vendor
// webhooks. Transitions are pure; persistence lives in the store package.
package subscription

import (
	"slices"

	"github.com/dukerupert/smartsavvy/internal/model"
)

// Action is the vendor-neutral effect of a webhook event.
type Action int

const (
	// ActionUnknown marks an event tag outside the vendor's known set.
	ActionUnknown Action = iota
	// ActionIgnore marks a known tag that carries no state change.
	ActionIgnore
	ActionActivate
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionActivate:
		return "activate"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Mutates reports whether the action changes subscriber state.
func (a Action) Mutates() bool {
	return a == ActionActivate || a == ActionCancel
}

// Transition returns the subscriber state after applying action with the
// given entitlement. The input is not modified. Entitlement is only read
// for ActionActivate.
//
// Activate on a plan sets the package and status active; on a course it adds
// the course (set semantics) and sets status active. Cancel clears the package
// and sets status cancelled; course entitlements are kept. There is no
// transition back to none. Applying the same action twice is the same as
// applying it once.
func Transition(sub model.Subscriber, action Action, ent Entitlement) model.Subscriber {
	next := sub
	next.Courses = slices.Clone(sub.Courses)

	switch action {
	case ActionActivate:
		switch ent.Kind {
		case KindPlan:
			pkg := ent.Package
			next.Package = &pkg
		case KindCourse:
			if !slices.Contains(next.Courses, ent.Course) {
				next.Courses = append(next.Courses, ent.Course)
			}
		}
		next.Status = model.StatusActive
	case ActionCancel:
		next.Package = nil
		next.Status = model.StatusCancelled
	}
	return next
}
