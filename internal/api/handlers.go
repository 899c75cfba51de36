package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/punchamoorthee/fxledger/internal/models"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathID parses the {id} route variable, answering 400 when it is not a uuid.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed id")
		return uuid.Nil, false
	}
	return id, true
}

// decodeRequest reads and validates a JSON payload, answering 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeJSON(w, r, v); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	if err := models.Validate(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid field %s: %s", verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	user, accounts, err := h.users.CreateUser(r.Context(), req.Username, h.initial)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/users/%s/accounts", user.ID))
	respondWithJSON(w, http.StatusCreated, models.UserResponse{User: *user, Accounts: models.NewAccounts(accounts)})
}

func (h *Handler) GetUserAccountsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	accounts, err := h.users.AccountsForUser(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccounts(accounts))
}

func (h *Handler) GetUserTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	txs, err := h.service.TransactionsFor(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := h.service.Account(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccount(*account))
}

// CreateTransferHandler executes a transfer. The Idempotency-Key header is
// optional; a replayed key answers 200 with the original record.
func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	transfer, err := req.ToDomain(r.Header.Get("Idempotency-Key"))
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rec, replayed, err := h.service.Transfer(r.Context(), transfer)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%s", rec.ID))
	if replayed {
		respondWithJSON(w, http.StatusOK, models.NewTransferResponse(*rec, true))
		return
	}
	respondWithJSON(w, http.StatusCreated, models.NewTransferResponse(*rec, false))
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Transaction(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferResponse(*rec, false))
}

func (h *Handler) GetRatesHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, models.NewRatesResponse(h.ref.Current()))
}
