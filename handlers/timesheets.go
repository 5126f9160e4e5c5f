package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"timesheets/apperr"
	"timesheets/hours"
	"timesheets/models"
	"timesheets/timesheet"
	"timesheets/workflow"
)

type TimesheetHandler struct {
	service *timesheet.Service
	engine  *workflow.Engine
}

func NewTimesheetHandler(service *timesheet.Service, engine *workflow.Engine) *TimesheetHandler {
	return &TimesheetHandler{service: service, engine: engine}
}

type timesheetResponse struct {
	models.Timesheet
	Summary hours.Summary `json:"summary"`
}

func withSummary(ts models.Timesheet) timesheetResponse {
	return timesheetResponse{Timesheet: ts, Summary: timesheet.Summary(ts)}
}

// createTimesheetRequest also accepts periodStart and periodEnd.
type createTimesheetRequest struct {
	PeriodStart      string `json:"period_start"`
	PeriodEnd        string `json:"period_end"`
	PeriodStartCamel string `json:"periodStart,omitempty"`
	PeriodEndCamel   string `json:"periodEnd,omitempty"`
}

// field returns the snake_case value, or the camelCase one with its key
// when only that was sent.
func field(snakeKey, snake, camelKey, camel string) (string, string) {
	if snake == "" && camel != "" {
		return camelKey, camel
	}
	return snakeKey, snake
}

// Create returns 201 for a new timesheet and 200 when the exact period
// already exists.
func (h *TimesheetHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req createTimesheetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := timesheet.ParseDate(field("period_start", req.PeriodStart, "periodStart", req.PeriodStartCamel))
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := timesheet.ParseDate(field("period_end", req.PeriodEnd, "periodEnd", req.PeriodEndCamel))
	if err != nil {
		writeError(w, r, err)
		return
	}

	ts, created, err := h.service.GetOrCreateForPeriod(r.Context(), user.ID, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, withSummary(ts))
}

// Current is a read: it answers 200 whether or not the period had to be
// created first.
func (h *TimesheetHandler) Current(w http.ResponseWriter, r *http.Request) {
	ts, _, err := h.service.Current(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withSummary(ts))
}

func (h *TimesheetHandler) List(w http.ResponseWriter, r *http.Request) {
	scope := timesheet.Scope(r.URL.Query().Get("scope"))
	items, err := h.service.List(r.Context(), currentUser(r), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Timesheet{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *TimesheetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ts, err := h.service.Get(r.Context(), currentUser(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withSummary(ts))
}

func (h *TimesheetHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entryID, err := pathID(r, "entryID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch timesheet.EntryPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := h.service.UpdateEntry(r.Context(), currentUser(r), id, entryID, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// applyTemplateRequest also accepts templateId.
type applyTemplateRequest struct {
	TemplateID      uint `json:"template_id"`
	TemplateIDCamel uint `json:"templateId,omitempty"`
}

func (h *TimesheetHandler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req applyTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TemplateID == 0 {
		req.TemplateID = req.TemplateIDCamel
	}
	if req.TemplateID == 0 {
		writeError(w, r, apperr.Validation("template_id", "template_id is required"))
		return
	}

	entries, err := h.service.ApplyTemplate(r.Context(), currentUser(r), id, req.TemplateID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"summary": hours.SummarizeEntries(entries),
	})
}

type transitionRequest struct {
	Signature string `json:"signature"`
	Note      string `json:"note"`
}

// Transition serves the five workflow actions. Approvals read "signature",
// denials read "note".
func (h *TimesheetHandler) Transition(action workflow.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req transitionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		input := req.Signature
		if rule, ok := workflow.RuleFor(action); ok && rule.Input == "note" {
			input = req.Note
		}

		ts, err := h.engine.Apply(r.Context(), currentUser(r), id, action, input)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ts)
	}
}

// ExportCSV writes approved timesheets intersecting ?from= and ?to= as a
// payroll CSV.
func (h *TimesheetHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	from, err := timesheet.ParseDate("from", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := timesheet.ParseDate("to", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	rows, err := h.service.Payroll(r.Context(), currentUser(r), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("payroll_%s_%s.csv", from.Format(models.DateLayout), to.Format(models.DateLayout))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{"Timesheet", "Employee", "Username", "Period Start", "Period End", "Regular Hours", "Adjustment", "Total Hours", "Pay Rate", "Gross", "Approved At"})
	for _, row := range rows {
		approvedAt := ""
		if row.ApprovedAt != nil {
			approvedAt = row.ApprovedAt.UTC().Format(time.RFC3339)
		}
		writer.Write([]string{
			fmt.Sprintf("%d", row.TimesheetID),
			row.Employee,
			row.Username,
			row.PeriodStart.Format(models.DateLayout),
			row.PeriodEnd.Format(models.DateLayout),
			row.Summary.Regular.StringFixed(2),
			row.Summary.Adjustment.StringFixed(2),
			row.Summary.Total.StringFixed(2),
			row.PayRate.StringFixed(2),
			row.Gross.StringFixed(2),
			approvedAt,
		})
	}
}
