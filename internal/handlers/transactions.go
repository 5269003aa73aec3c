package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"centsible/internal/apperr"
	"centsible/internal/models"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxAmountLength caps the raw amount text before it is parsed.
const maxAmountLength = 64

var errAmountInvalid = apperr.Validation("amount: a valid number is required")

// transactionRequest accepts the amount as a JSON number or string. Any
// "user" field in the body is ignored.
type transactionRequest struct {
	Amount          json.RawMessage `json:"amount"`
	Category        *string         `json:"category"`
	Date            *string         `json:"date"`
	TransactionType *string         `json:"transaction_type"`
}

func (h *Handlers) readTransaction(w http.ResponseWriter, r *http.Request) (models.TransactionInput, error) {
	var in models.TransactionInput

	if isForm(r) {
		if err := parseForm(w, r); err != nil {
			return in, err
		}
		form := r.PostForm
		if form.Has("amount") {
			raw := form.Get("amount")
			if len(raw) > maxAmountLength {
				return in, errAmountInvalid
			}
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return in, errAmountInvalid
			}
			in.Amount = &d
		}
		for key, dst := range map[string]**string{
			"category":         &in.Category,
			"date":             &in.Date,
			"transaction_type": &in.TransactionType,
		} {
			if form.Has(key) {
				v := form.Get(key)
				*dst = &v
			}
		}
		return in, nil
	}

	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return in, err
	}
	if len(req.Amount) > 0 && !bytes.Equal(req.Amount, []byte("null")) {
		if len(req.Amount) > maxAmountLength {
			return in, errAmountInvalid
		}
		var d decimal.Decimal
		if err := d.UnmarshalJSON(req.Amount); err != nil {
			return in, errAmountInvalid
		}
		in.Amount = &d
	}
	in.Category = req.Category
	in.Date = req.Date
	in.TransactionType = req.TransactionType
	return in, nil
}

func transactionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apperr.ErrNotFound
	}
	return id, nil
}

// ListTransactions returns the caller's transactions.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request, sess *models.Session) {
	ts, err := h.ledger.List(r.Context(), sess.UserID)
	h.metrics.LedgerOperation("list", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// CreateTransaction records a transaction owned by the caller.
func (h *Handlers) CreateTransaction(w http.ResponseWriter, r *http.Request, sess *models.Session) {
	in, err := h.readTransaction(w, r)
	if err != nil {
		h.metrics.LedgerOperation("create", outcome(err))
		h.writeError(w, r, err)
		return
	}

	t, err := h.ledger.Create(r.Context(), sess.UserID, in)
	h.metrics.LedgerOperation("create", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Debug("transaction created", zap.Int64("id", t.ID), zap.Int64("user_id", t.UserID))
	writeJSON(w, http.StatusCreated, t)
}

// GetTransaction returns one of the caller's transactions.
func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request, sess *models.Session) {
	id, err := transactionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.ledger.Get(r.Context(), id, sess.UserID)
	h.metrics.LedgerOperation("get", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTransaction replaces every field of one of the caller's transactions.
func (h *Handlers) UpdateTransaction(w http.ResponseWriter, r *http.Request, sess *models.Session) {
	h.update(w, r, sess, false)
}

// PatchTransaction changes the supplied fields of one of the caller's transactions.
func (h *Handlers) PatchTransaction(w http.ResponseWriter, r *http.Request, sess *models.Session) {
	h.update(w, r, sess, true)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request, sess *models.Session, partial bool) {
	id, err := transactionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := h.readTransaction(w, r)
	if err != nil {
		h.metrics.LedgerOperation("update", outcome(err))
		h.writeError(w, r, err)
		return
	}

	t, err := h.ledger.Update(r.Context(), id, sess.UserID, in, partial)
	h.metrics.LedgerOperation("update", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTransaction removes one of the caller's transactions.
func (h *Handlers) DeleteTransaction(w http.ResponseWriter, r *http.Request, sess *models.Session) {
	id, err := transactionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.ledger.Delete(r.Context(), id, sess.UserID)
	h.metrics.LedgerOperation("delete", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
