package httpapi

import (
	"fmt"
	"net/http"
	"testing"

	"adops.io/internal/adops"
)

func TestCardUsersFollowCardOwnership(t *testing.T) {
	api := newTestAPI(t)
	root := api.root()
	u1 := api.createOperator(root, "u1")
	u2 := api.createOperator(root, "u2")

	card := expect[adops.Card](t, api.do(http.MethodPost, "/api/cards", map[string]any{"name": "Visa"}, u1.AccessToken), http.StatusCreated)
	usersPath := fmt.Sprintf("/api/cards/%d/users", card.ID)

	body := map[string]any{"full_name": "Jane Doe", "email": "Jane@Example.com"}
	cu := expect[adops.CardUser](t, api.do(http.MethodPost, usersPath, body, u1.AccessToken), http.StatusCreated)
	if cu.Email != "jane@example.com" || cu.CreatedBy != u1.User.UserID {
		t.Fatalf("unexpected card user %+v", cu)
	}
	expectCode(t, api.do(http.MethodPost, usersPath, body, u2.AccessToken), http.StatusForbidden, CodeForbidden)
	expectCode(t, api.do(http.MethodGet, usersPath, nil, u2.AccessToken), http.StatusForbidden, CodeForbidden)

	list := expect[[]adops.CardUser](t, api.do(http.MethodGet, usersPath, nil, root.AccessToken), http.StatusOK)
	if len(list) != 1 {
		t.Fatalf("expected 1 card user, got %d", len(list))
	}

	expect[errorBody](t, api.do(http.MethodDelete, fmt.Sprintf("/api/cards/%d", card.ID), nil, u1.AccessToken), http.StatusConflict)
	expectCode(t, api.do(http.MethodDelete, fmt.Sprintf("/api/card-users/%d", cu.ID), nil, u2.AccessToken), http.StatusForbidden, CodeForbidden)
	expect[struct{}](t, api.do(http.MethodDelete, fmt.Sprintf("/api/card-users/%d", cu.ID), nil, u1.AccessToken), http.StatusNoContent)
}

func TestReportsScopedToOwner(t *testing.T) {
	api := newTestAPI(t)
	root := api.root()
	u1 := api.createOperator(root, "u1")
	u2 := api.createOperator(root, "u2")

	card := expect[adops.Card](t, api.do(http.MethodPost, "/api/cards", map[string]any{"name": "Visa"}, u1.AccessToken), http.StatusCreated)
	rep := map[string]any{"card_id": card.ID, "campaign": "spring", "report_date": "2025-03-01", "spend_cents": 1500, "impressions": 1000, "clicks": 10}
	created := expect[adops.Report](t, api.do(http.MethodPost, "/api/reports", rep, u1.AccessToken), http.StatusCreated)
	expectCode(t, api.do(http.MethodPost, "/api/reports", rep, u2.AccessToken), http.StatusForbidden, CodeForbidden)

	other := map[string]any{"campaign": "summer", "report_date": "2025-06-01", "spend_cents": 700, "impressions": 50, "clicks": 1}
	expect[adops.Report](t, api.do(http.MethodPost, "/api/reports", other, u2.AccessToken), http.StatusCreated)

	mine := expect[[]adops.Report](t, api.do(http.MethodGet, "/api/reports", nil, u1.AccessToken), http.StatusOK)
	if len(mine) != 1 || mine[0].ID != created.ID {
		t.Fatalf("u1 should only see own report, got %+v", mine)
	}
	all := expect[[]adops.Report](t, api.do(http.MethodGet, "/api/reports?from=2025-01-01&to=2025-12-31", nil, root.AccessToken), http.StatusOK)
	if len(all) != 2 {
		t.Fatalf("admin should see 2 reports, got %d", len(all))
	}
	expect[errorBody](t, api.do(http.MethodGet, "/api/reports?from=03/01/2025", nil, root.AccessToken), http.StatusBadRequest)

	summary := expect[[]adops.ReportSummary](t, api.do(http.MethodGet, "/api/reports/summary", nil, u1.AccessToken), http.StatusOK)
	if len(summary) != 1 || summary[0].SpendCents != 1500 || summary[0].Reports != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	reportPath := fmt.Sprintf("/api/reports/%d", created.ID)
	expectCode(t, api.do(http.MethodGet, reportPath, nil, u2.AccessToken), http.StatusForbidden, CodeForbidden)
	expect[adops.Report](t, api.do(http.MethodGet, reportPath, nil, root.AccessToken), http.StatusOK)
	expect[struct{}](t, api.do(http.MethodDelete, reportPath, nil, u1.AccessToken), http.StatusNoContent)
	expect[errorBody](t, api.do(http.MethodGet, reportPath, nil, u1.AccessToken), http.StatusNotFound)
}
