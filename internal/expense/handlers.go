package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/expense-tracker/internal/scanning"
)

// 50MB, enough for high-resolution phone photos
const maxFormSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Error encoding response", "error", err)
		code = http.StatusInternalServerError
		body = []byte(`{"error":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// errorStatus maps service errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case scanning.IsExtractionFailure(err):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes it with the mapped status. Internal
// errors are not echoed to the client.
func writeServiceError(w http.ResponseWriter, msg string, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeError(w, "Internal server error", code)
		return
	}
	slog.Warn(msg, "error", err, "status", code)
	writeError(w, err.Error(), code)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", ErrInvalid, err)
	}
	return nil
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// uploadContentType returns the declared type of an uploaded part, falling
// back to the file extension
func uploadContentType(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".gif":
			contentType = "image/gif"
		case ".webp":
			contentType = "image/webp"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		}
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func readUpload(header *multipart.FileHeader) (Upload, error) {
	f, err := header.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return Upload{}, fmt.Errorf("reading upload: %w", err)
	}
	return Upload{
		Filename:    header.Filename,
		Data:        buf.Bytes(),
		ContentType: uploadContentType(header),
	}, nil
}

// handleScan extracts expenses from one or more uploaded receipt files.
// Nothing is saved; the client reviews the result first.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}

	uploads := make([]Upload, 0, len(headers))
	for _, h := range headers {
		u, err := readUpload(h)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", h.Filename)
			writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		uploads = append(uploads, u)
	}

	// a client that leaves mid-scan drops the result without cancelling the call
	ctx := context.WithoutCancel(r.Context())

	if len(uploads) == 1 {
		u := uploads[0]
		expense, err := s.service.ScanReceipt(ctx, u.Filename, u.Data, u.ContentType)
		if err != nil {
			writeServiceError(w, "Error scanning receipt", err)
			return
		}
		writeJSON(w, http.StatusOK, expense)
		return
	}

	writeJSON(w, http.StatusOK, s.service.ScanReceipts(ctx, uploads))
}

// handleListExpenses returns the expenses matching the query filter
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(FilterFromQuery(r.URL.Query()))
	if err != nil {
		writeServiceError(w, "Error listing expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// handleCreateExpense saves a reviewed or hand-entered expense
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var e Expense
	if err := decodeBody(r, &e); err != nil {
		writeServiceError(w, "Error decoding expense", err)
		return
	}
	saved, err := s.service.SaveExpense(&e)
	if err != nil {
		writeServiceError(w, "Error saving expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// handleUpdateExpense replaces an existing expense
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.GetExpense(id); err != nil {
		writeServiceError(w, "Error updating expense", err)
		return
	}

	var e Expense
	if err := decodeBody(r, &e); err != nil {
		writeServiceError(w, "Error decoding expense", err)
		return
	}
	e.ID = id

	saved, err := s.service.SaveExpense(&e)
	if err != nil {
		writeServiceError(w, "Error saving expense", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.service.GetExpense(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "Error getting expense", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteExpense deletes an expense
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExpense(r.PathValue("id")); err != nil {
		writeServiceError(w, "Error deleting expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns a stored receipt image
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("name"))
	if err != nil {
		writeServiceError(w, "Error getting receipt file", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

type groupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ExpenseIDs  []string `json:"expenseIds"`
}

// handleListGroups returns all groups
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListGroups()
	if err != nil {
		writeServiceError(w, "Error listing groups", err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// handleCreateGroup creates a group, optionally assigning expenses to it
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, "Error decoding group", err)
		return
	}
	group, err := s.service.CreateGroup(req.Name, req.Description, req.ExpenseIDs)
	if err != nil {
		writeServiceError(w, "Error creating group", err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// handleGetGroup returns a group with its expenses
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	group, err := s.service.GetGroup(id)
	if err != nil {
		writeServiceError(w, "Error getting group", err)
		return
	}
	expenses, err := s.service.ListExpenses(Filter{Group: id})
	if err != nil {
		writeServiceError(w, "Error listing group expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":    group,
		"expenses": expenses,
		"summary":  Summarize(expenses),
	})
}

// handleUpdateGroup renames a group
func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, "Error decoding group", err)
		return
	}
	group, err := s.service.UpdateGroup(r.PathValue("id"), req.Name, req.Description)
	if err != nil {
		writeServiceError(w, "Error updating group", err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// handleDeleteGroup deletes a group, leaving its expenses ungrouped
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteGroup(r.PathValue("id")); err != nil {
		writeServiceError(w, "Error deleting group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAssignToGroup moves expenses into a group
func (s *Server) handleAssignToGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, "Error decoding assignment", err)
		return
	}
	if err := s.service.AssignToGroup(r.PathValue("id"), req.ExpenseIDs); err != nil {
		writeServiceError(w, "Error assigning expenses", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSummary totals the filtered expenses
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(FilterFromQuery(r.URL.Query()))
	if err != nil {
		writeServiceError(w, "Error listing expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, Summarize(expenses))
}

// handleDashboard returns the landing page overview
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.service.Dashboard()
	if err != nil {
		writeServiceError(w, "Error building dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// exportFilename names a download after the current date
func (s *Server) exportFilename(ext string) string {
	return fmt.Sprintf("expenses-%s.%s", s.service.timeSource.Now().Format(dateLayout), ext)
}

// handleExportCSV downloads the filtered expenses as CSV
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(FilterFromQuery(r.URL.Query()))
	if err != nil {
		writeServiceError(w, "Error listing expenses", err)
		return
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, expenses); err != nil {
		writeServiceError(w, "Error writing csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.exportFilename("csv")))
	w.Write(buf.Bytes())
}

// handleExportXLSX downloads the filtered expenses as an Excel workbook
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(FilterFromQuery(r.URL.Query()))
	if err != nil {
		writeServiceError(w, "Error listing expenses", err)
		return
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, expenses); err != nil {
		writeServiceError(w, "Error writing xlsx", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.exportFilename("xlsx")))
	w.Write(buf.Bytes())
}

// handleExportText returns the filtered expenses as tab separated text
func (s *Server) handleExportText(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(FilterFromQuery(r.URL.Query()))
	if err != nil {
		writeServiceError(w, "Error listing expenses", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, ClipboardText(expenses))
}
