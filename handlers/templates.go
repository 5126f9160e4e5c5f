package handlers

import (
	"net/http"

	"timesheets/models"
	"timesheets/timesheet"
)

type TemplateHandler struct {
	service *timesheet.Service
}

func NewTemplateHandler(service *timesheet.Service) *TemplateHandler {
	return &TemplateHandler{service: service}
}

func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListTemplates(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.TimesheetTemplate{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in timesheet.TemplateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	tmpl, err := h.service.CreateTemplate(r.Context(), currentUser(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.DeleteTemplate(r.Context(), currentUser(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
