package builtins

import (
	"context"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// ExpenseStore persists expenses logged over voice.
type ExpenseStore interface {
	LogExpense(ctx context.Context, userID string, expense Expense) (string, error)
}

// Expense is one spending record.
type Expense struct {
	Amount   float64
	Currency string
	Category string
	Note     string
	SpentAt  time.Time
}

// ExpenseLog records a spending entry against the user's budget.
type ExpenseLog struct {
	Store ExpenseStore

	// Now substitutes the clock in tests.
	Now func() time.Time
}

func (t *ExpenseLog) Name() string { return ToolExpenseLog }

func (t *ExpenseLog) Definition() tools.Definition {
	return tools.Definition{
		Name:        ToolExpenseLog,
		Description: "Log an expense against the user's budget. Requires the amount; category and note are optional.",
		Category:    "finance",
		Keywords: []string{
			"expense", "spent", "spend", "cost", "paid", "pay", "budget",
			"bought", "purchase", "fuel", "groceries",
		},
		InputSchema: &types.JSONSchema{
			Type: "object",
			Properties: map[string]types.JSONSchema{
				"amount":   {Type: "number", Description: "Amount spent, in the user's currency"},
				"currency": {Type: "string", Description: "ISO 4217 code, default USD"},
				"category": {Type: "string", Description: "Budget category such as fuel, food, camp fees"},
				"note":     {Type: "string"},
				"spent_at": {Type: "string", Description: "When the money was spent, ISO 8601; defaults to now"},
			},
			Required: []string{"amount"},
		},
	}
}

func (t *ExpenseLog) Execute(ctx context.Context, args map[string]any, rctx types.RuntimeContext) (map[string]any, error) {
	amount, _ := numberArg(args, "amount")
	if amount <= 0 {
		return nil, core.NewValidationError("amount must be positive", "amount")
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	spentAt := now()
	if s := stringArg(args, "spent_at"); s != "" {
		parsed, err := parseWhen(s, rctx.Timezone)
		if err != nil {
			return nil, core.NewValidationError("unrecognized spent_at time", "spent_at")
		}
		spentAt = parsed
	}

	expense := Expense{
		Amount:   amount,
		Currency: stringArg(args, "currency"),
		Category: stringArg(args, "category"),
		Note:     stringArg(args, "note"),
		SpentAt:  spentAt,
	}
	if expense.Currency == "" {
		expense.Currency = "USD"
	}
	if expense.Category == "" {
		expense.Category = "general"
	}

	id, err := t.Store.LogExpense(ctx, rctx.UserID, expense)
	if err != nil {
		return nil, storeErr("could not save the expense", err)
	}
	return map[string]any{
		"expense_id": id,
		"amount":     expense.Amount,
		"currency":   expense.Currency,
		"category":   expense.Category,
	}, nil
}
