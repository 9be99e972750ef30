package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/internal/application/query"
	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every registered dependency check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady reports readiness: critical checks only.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive reports that the process is up.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Date accepts "2006-01-02", "2006-01-02 15:04:05" or RFC 3339, read in the
// academy timezone.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := timeutil.ParseDate(raw)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

type feeItemRequest struct {
	Label           string          `json:"label"`
	Amount          decimal.Decimal `json:"amount"`
	DueOffsetMonths int             `json:"due_offset_months"`
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Date        Date            `json:"date"`
	Method      string          `json:"method"`
	Description string          `json:"description"`
}

type admitStudentRequest struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	AdmissionDate    Date              `json:"admission_date"`
	Cycle            string            `json:"cycle"`
	TotalFee         *decimal.Decimal  `json:"total_fee"`
	FeeStructureCode string            `json:"fee_structure"`
	FeeItems         []feeItemRequest  `json:"fee_items"`
	InitialPayment   *paymentRequest   `json:"initial_payment"`
	Profile          map[string]string `json:"profile"`
}

type promoteRequest struct {
	StudentIDs []string `json:"student_ids"`
	Source     string   `json:"source"`
	Target     string   `json:"target"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type paymentResponse struct {
	Record         query.PaymentRecordDTO `json:"record"`
	Ledger         *query.LedgerDTO       `json:"ledger"`
	PreviousStatus ledger.Status          `json:"previous_status"`
}

type admitResponse struct {
	StudentID      string                  `json:"student_id"`
	Name           string                  `json:"name"`
	Cycle          string                  `json:"cycle"`
	Installments   int                     `json:"installments"`
	Ledger         *query.LedgerDTO        `json:"ledger"`
	InitialPayment *query.PaymentRecordDTO `json:"initial_payment,omitempty"`
}

type outcomeResponse struct {
	StudentID     string           `json:"student_id"`
	Outcome       ledger.Outcome   `json:"outcome"`
	From          string           `json:"from,omitempty"`
	To            string           `json:"to,omitempty"`
	Settled       bool             `json:"settled"`
	SettledAmount decimal.Decimal  `json:"settled_amount"`
	Ledger        *query.LedgerDTO `json:"ledger,omitempty"`
	Error         string           `json:"error,omitempty"`
}

type promoteResponse struct {
	BatchID  string            `json:"batch_id"`
	Source   string            `json:"source"`
	Target   string            `json:"target"`
	Promoted int               `json:"promoted"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Outcomes []outcomeResponse `json:"outcomes"`
}

func ledgerDTO(s ledger.Snapshot) *query.LedgerDTO {
	return &query.LedgerDTO{
		StudentID: s.StudentID.String(),
		Total:     s.Total,
		Paid:      s.Paid,
		Due:       s.Due,
		Status:    s.Status,
		AsOf:      s.AsOf,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleAdmitStudent handles POST /api/v1/students
func (s *Server) handleAdmitStudent(w http.ResponseWriter, r *http.Request) {
	if s.deps.AdmitStudent == nil {
		writeNotConfigured(w, r)
		return
	}

	var req admitStudentRequest
	if !s.decode(w, r, &req) {
		return
	}

	cmd := command.AdmitStudentCommand{
		StudentID:        strings.TrimSpace(req.ID),
		Name:             strings.TrimSpace(req.Name),
		AdmissionDate:    req.AdmissionDate.Time,
		CycleLabel:       req.Cycle,
		TotalFee:         req.TotalFee,
		FeeStructureCode: req.FeeStructureCode,
		Profile:          req.Profile,
		CorrelationID:    getRequestID(r.Context()),
	}
	for _, it := range req.FeeItems {
		cmd.FeeItems = append(cmd.FeeItems, command.FeeItemInput{
			Label:           it.Label,
			Amount:          it.Amount,
			DueOffsetMonths: it.DueOffsetMonths,
		})
	}
	if p := req.InitialPayment; p != nil {
		cmd.InitialPayment = &command.InitialPaymentInput{
			Amount:      p.Amount,
			Date:        p.Date.Time,
			Method:      p.Method,
			Description: p.Description,
		}
	}

	res, err := s.deps.AdmitStudent.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, "admit student", err)
		return
	}

	resp := admitResponse{
		StudentID:    res.Student.ID.String(),
		Name:         res.Student.Name,
		Cycle:        res.Student.Cycle().String(),
		Installments: len(res.Student.Plan),
		Ledger:       ledgerDTO(res.Ledger),
	}
	if res.InitialPayment != nil {
		dto := query.NewPaymentRecordDTO(res.InitialPayment)
		resp.InitialPayment = &dto
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

// handleRecordPayment handles POST /api/v1/students/{id}/payments
func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordPayment == nil {
		writeNotConfigured(w, r)
		return
	}

	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.RecordPayment.Handle(r.Context(), command.RecordPaymentCommand{
		StudentID:     r.PathValue("id"),
		Amount:        req.Amount,
		Date:          req.Date.Time,
		Method:        req.Method,
		Description:   req.Description,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, "record payment", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, paymentResponse{
		Record:         query.NewPaymentRecordDTO(res.Record),
		Ledger:         ledgerDTO(res.Ledger),
		PreviousStatus: res.PreviousStatus,
	})
}

// handlePromoteStudents handles POST /api/v1/promotions
func (s *Server) handlePromoteStudents(w http.ResponseWriter, r *http.Request) {
	if s.deps.PromoteStudents == nil {
		writeNotConfigured(w, r)
		return
	}

	var req promoteRequest
	if !s.decode(w, r, &req) {
		return
	}

	source, err := cycle.Parse(req.Source)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "source: "+err.Error())
		return
	}
	target, err := cycle.Parse(req.Target)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "target: "+err.Error())
		return
	}

	res, err := s.deps.PromoteStudents.Handle(r.Context(), command.PromoteStudentsCommand{
		StudentIDs:    req.StudentIDs,
		Source:        source,
		Target:        target,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, "promote students", err)
		return
	}

	resp := promoteResponse{
		BatchID:  res.BatchID,
		Source:   res.Source.String(),
		Target:   res.Target.String(),
		Promoted: res.Promoted,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
		Outcomes: make([]outcomeResponse, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		out := outcomeResponse{
			StudentID:     o.StudentID,
			Outcome:       o.Outcome,
			Settled:       o.Settled,
			SettledAmount: o.SettledAmount,
		}
		if o.Outcome != ledger.OutcomeError {
			out.From = o.From.String()
		}
		if o.Outcome == ledger.OutcomePromoted {
			out.To = o.To.String()
		}
		if o.Ledger != nil {
			out.Ledger = ledgerDTO(*o.Ledger)
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLedger handles GET /api/v1/students/{id}/ledger
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetLedger == nil {
		writeNotConfigured(w, r)
		return
	}

	res, err := s.deps.GetLedger.Handle(r.Context(), query.GetLedgerQuery{StudentID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, "get ledger", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetInstallments handles GET /api/v1/students/{id}/installments
func (s *Server) handleGetInstallments(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetInstallmentSchedule == nil {
		writeNotConfigured(w, r)
		return
	}

	res, err := s.deps.GetInstallmentSchedule.Handle(r.Context(), query.GetInstallmentScheduleQuery{StudentID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, "get installments", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetPaymentHistory handles GET /api/v1/students/{id}/payments
func (s *Server) handleGetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetPaymentHistory == nil {
		writeNotConfigured(w, r)
		return
	}

	res, err := s.deps.GetPaymentHistory.Handle(r.Context(), query.GetPaymentHistoryQuery{
		StudentID: r.PathValue("id"),
		Limit:     getQueryParamInt(r, "limit", 0),
	})
	if err != nil {
		s.writeDomainError(w, r, "get payment history", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: len(res.Records)})
}

// handleGetDueList handles GET /api/v1/dues?filter=&q=&page=&page_size=
func (s *Server) handleGetDueList(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetDueList == nil {
		writeNotConfigured(w, r)
		return
	}

	res, err := s.deps.GetDueList.Handle(r.Context(), query.GetDueListQuery{
		Filter:   r.URL.Query().Get("filter"),
		Search:   r.URL.Query().Get("q"),
		Page:     getQueryParamInt(r, "page", 1),
		PageSize: getQueryParamInt(r, "page_size", 0),
	})
	if err != nil {
		s.writeDomainError(w, r, "get due list", err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{
		TotalCount: res.TotalCount,
		Page:       res.Page,
		PageSize:   res.PageSize,
		HasMore:    res.Page*res.PageSize < res.TotalCount,
	})
}

// handleGetSummary handles GET /api/v1/summary?cycle=
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSummary == nil {
		writeNotConfigured(w, r)
		return
	}

	res, err := s.deps.GetSummary.Handle(r.Context(), query.GetSummaryQuery{Cycle: r.URL.Query().Get("cycle")})
	if err != nil {
		s.writeDomainError(w, r, "get summary", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// DECODING & ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a JSON body. On failure it writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
		case errors.Is(err, io.EOF):
			writeJSONError(w, r, http.StatusBadRequest, "bad_request", "Request body is empty")
		default:
			writeJSONError(w, r, http.StatusBadRequest, "bad_request", "Malformed JSON: "+err.Error())
		}
		return false
	}
	return true
}

// errorStatus maps a domain error kind to an HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrStateTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrOptimisticLock):
		return http.StatusConflict, "stale_write"
	case shared.IsPersistence(err):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeDomainError logs and writes err. Internal details of 5xx errors are
// not exposed to the client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errorStatus(err)

	log := logger.FromContext(r.Context()).With(logger.Operation(op), logger.Err(err))
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logger.Int("status", status))
		message = "The operation could not be completed, please retry"
	} else {
		log.Debug("request rejected", logger.Int("status", status))
	}

	writeJSONError(w, r, status, code, message)
}

func writeNotConfigured(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Operation not configured")
}
