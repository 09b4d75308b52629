package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/agensia/notify-dispatch/internal/domain/dispatch"
	qb "github.com/agensia/notify-dispatch/internal/platform/querybuilder"
)

type recipientTableModel struct {
	Reference string `db:"reference"`
	Name      string `db:"name"`
	Phone     string `db:"phone_number"`
}

// RecipientResolver resolves a job's target reference against the
// notification_recipients table.
type RecipientResolver struct {
	db *sqlx.DB
}

func NewRecipientResolver(db *sqlx.DB) *RecipientResolver {
	return &RecipientResolver{db: db}
}

func (r *RecipientResolver) Resolve(ctx context.Context, reference string) (dispatch.Target, bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return dispatch.Target{}, false, fmt.Errorf("target reference is required")
	}

	query, args, err := qb.Select("reference", "name", "phone_number").
		From("notification_recipients").
		Where(qb.Eq("reference", reference)).
		Limit(1).
		ToSQL()
	if err != nil {
		return dispatch.Target{}, false, fmt.Errorf("build resolve recipient query: %w", err)
	}

	var row recipientTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return dispatch.Target{}, false, nil
		}
		return dispatch.Target{}, false, fmt.Errorf("resolve recipient: %w", err)
	}

	return dispatch.Target{
		Reference: row.Reference,
		Name:      row.Name,
		Phone:     row.Phone,
	}, true, nil
}
