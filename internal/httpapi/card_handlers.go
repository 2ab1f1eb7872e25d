package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"adops.io/internal/adops"
)

func (a *API) handleListCards(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := adops.CardFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Status: adops.CardStatus(strings.TrimSpace(q.Get("status"))),
		Limit:  limit,
		Offset: offset,
	}
	cards, err := a.ads.ListCards(r.Context(), currentUser(r), filter)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if cards == nil {
		cards = []adops.Card{}
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	card, err := a.ads.GetCard(r.Context(), currentUser(r), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var in adops.CardInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	card, err := a.ads.CreateCard(r.Context(), currentUser(r), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "cards.create", map[string]any{"card_id": card.ID, "name": card.Name})
	w.Header().Set("Location", fmt.Sprintf("/api/cards/%d", card.ID))
	writeJSON(w, http.StatusCreated, card)
}

func (a *API) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var in adops.CardInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	card, err := a.ads.UpdateCard(r.Context(), currentUser(r), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "cards.update", map[string]any{"card_id": card.ID})
	writeJSON(w, http.StatusOK, card)
}

func (a *API) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ads.DeleteCard(r.Context(), currentUser(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "cards.delete", map[string]any{"card_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListCardUsers(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.ads.ListCardUsers(r.Context(), currentUser(r), cardID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if users == nil {
		users = []adops.CardUser{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleCreateCardUser(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var in adops.CardUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cu, err := a.ads.CreateCardUser(r.Context(), currentUser(r), cardID, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "card_users.create", map[string]any{"card_id": cardID, "card_user_id": cu.ID})
	w.Header().Set("Location", fmt.Sprintf("/api/card-users/%d", cu.ID))
	writeJSON(w, http.StatusCreated, cu)
}

func (a *API) handleDeleteCardUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ads.DeleteCardUser(r.Context(), currentUser(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "card_users.delete", map[string]any{"card_user_id": id})
	w.WriteHeader(http.StatusNoContent)
}
