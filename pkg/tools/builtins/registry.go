// Package builtins provides the production tool set: calendar booking,
// expense logging, trip routing, and durable preferences. Each tool is a
// thin handler over an injected store so tests and deployments choose the
// backing implementation.
package builtins

import (
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

const (
	ToolCalendarCreate = "calendar.create"
	ToolExpenseLog     = "expense.log"
	ToolRoutePlan      = "route.plan"
	ToolPreferencesGet = "preferences.get"
	ToolPreferencesSet = "preferences.set"
)

// Deps are the backing stores for the built-in tools. A nil entry leaves the
// corresponding tools unregistered rather than registered broken.
type Deps struct {
	Calendar    CalendarStore
	Expenses    ExpenseStore
	Routes      RoutePlanner
	Preferences PreferenceStore
}

// NewRegistry assembles the tool registry from the configured stores.
func NewRegistry(deps Deps) *tools.Registry {
	var executors []tools.Executor
	if deps.Calendar != nil {
		executors = append(executors, &CalendarCreate{Store: deps.Calendar})
	}
	if deps.Expenses != nil {
		executors = append(executors, &ExpenseLog{Store: deps.Expenses})
	}
	if deps.Routes != nil {
		executors = append(executors, &RoutePlan{Planner: deps.Routes})
	}
	if deps.Preferences != nil {
		executors = append(executors,
			&PreferencesGet{Store: deps.Preferences},
			&PreferencesSet{Store: deps.Preferences},
		)
	}
	return tools.NewRegistry(executors...)
}
