package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/guard"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/platform/httpx"
	"github.com/foreman-pm/foreman/internal/query"
)

var (
	closeBooksAccess  = guard.Requirement{Area: capability.Accounting, Capability: capability.AccountingCloseBooks, Feature: "closing the books"}
	approveBillAccess = guard.Requirement{Area: capability.Bills, Capability: capability.BillsApprove, Feature: "bill approval"}
	deleteBillAccess  = guard.Requirement{Area: capability.Bills, Capability: capability.BillsCreate, Feature: "bill management"}
)

// Handler wires accounting and bill endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      guard.Gate
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate guard.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validator: validator.New()}
}

// MountAccounting registers the accounting routes.
func (h *Handler) MountAccounting(r chi.Router) {
	r.Use(h.gate.Accounting())
	r.Get("/projects/{projectID}/closed-books", h.handleClosedBooks)
	r.With(h.gate.Require(closeBooksAccess)).Put("/projects/{projectID}/closed-books", h.handleUpdateClosedBooks)
	r.Get("/transaction-locked", h.handleTransactionLocked)
}

// MountBills registers the bill routes.
func (h *Handler) MountBills(r chi.Router) {
	r.Use(h.gate.Bills())
	r.Get("/counts", h.handleBillCounts)
	r.Get("/projects/{projectID}", h.handleBills)
	r.With(h.gate.Require(approveBillAccess)).Post("/{billID}/approve", h.handleApproveBill)
	r.With(h.gate.Require(deleteBillAccess)).Delete("/{billID}", h.handleDeleteBill)
}

func respond[T any](w http.ResponseWriter, res query.Result[T]) {
	if res.Err != nil {
		httpx.RespondError(w, res.Err)
		return
	}
	httpx.JSON(w, http.StatusOK, res.View())
}

func (h *Handler) handleClosedBooks(w http.ResponseWriter, r *http.Request) {
	respond(w, h.service.ClosedBooksDate(r.Context(), chi.URLParam(r, "projectID")))
}

type closedBooksForm struct {
	Date *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) handleUpdateClosedBooks(w http.ResponseWriter, r *http.Request) {
	var form closedBooksForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	in := ClosedBooksInput{ProjectID: chi.URLParam(r, "projectID")}
	if form.Date != nil {
		date, err := time.Parse(DateLayout, *form.Date)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		in.Date = &date
	}
	if err := h.service.UpdateClosedBooksDate(r.Context(), in); err != nil {
		h.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransactionLocked(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lock := LockQuery{Date: q.Get("date"), ProjectID: q.Get("project_id"), OwnerID: q.Get("owner_id")}
	if lock.Date != "" {
		if _, err := time.Parse(DateLayout, lock.Date); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
			return
		}
	}
	respond(w, h.service.TransactionLocked(r.Context(), lock))
}

func (h *Handler) handleBillCounts(w http.ResponseWriter, r *http.Request) {
	respond(w, h.service.BillCounts(r.Context(), r.URL.Query()["project_id"]))
}

func (h *Handler) handleBills(w http.ResponseWriter, r *http.Request) {
	status := BillStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", ErrInvalidStatus.Error())
		return
	}
	respond(w, h.service.Bills(r.Context(), chi.URLParam(r, "projectID"), status))
}

func (h *Handler) handleApproveBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.service.ApproveBill(r.Context(), chi.URLParam(r, "billID"))
	if err != nil {
		h.writeMutationError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBill(r.Context(), chi.URLParam(r, "billID")); err != nil {
		h.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeMutationError(w http.ResponseWriter, err error) {
	if errors.Is(err, identity.ErrUnauthenticated) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	httpx.RespondError(w, err)
}
