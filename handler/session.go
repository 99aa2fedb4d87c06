package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/c54335/contract-delivery-tracker/middleware"
	"github.com/c54335/contract-delivery-tracker/model"
	"github.com/c54335/contract-delivery-tracker/pkg/logger"
	"github.com/c54335/contract-delivery-tracker/service"
)

const maxUploadBytes = 50 << 20

// sessionArchive is the object storage the handler keeps exports in
type sessionArchive interface {
	ArchiveExport(ctx context.Context, tenant, sessionID string, csvData []byte, at time.Time) (string, error)
	RemoveSession(ctx context.Context, tenant, sessionID string) error
}

type calendarSyncer interface {
	Sync(ctx context.Context, sessionID string, rows []model.Row) (service.SyncResult, error)
}

type SessionHandler struct {
	store       *service.SessionStore
	intake      *service.Intake
	interpreter *service.Interpreter
	archive     sessionArchive
	calendar    calendarSyncer
	location    *time.Location
	now         func() time.Time
}

func NewSessionHandler(store *service.SessionStore, intake *service.Intake, interpreter *service.Interpreter, loc *time.Location) *SessionHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &SessionHandler{
		store:       store,
		intake:      intake,
		interpreter: interpreter,
		location:    loc,
		now:         time.Now,
	}
}

// WithArchive enables export archiving and cleanup in object storage
func (h *SessionHandler) WithArchive(a sessionArchive) *SessionHandler {
	h.archive = a
	return h
}

// WithCalendar enables the calendar sync endpoint
func (h *SessionHandler) WithCalendar(cs calendarSyncer) *SessionHandler {
	h.calendar = cs
	return h
}

// Register mounts the session routes on rg
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	sessions.POST("", h.Create)
	sessions.GET("", h.List)
	sessions.GET("/:id", h.Get)
	sessions.DELETE("/:id", h.Delete)
	sessions.PUT("/:id/baselines", h.SetBaselines)
	sessions.POST("/:id/document", h.UploadDocument)
	sessions.POST("/:id/text", h.SubmitText)
	sessions.POST("/:id/updates", h.ApplyUpdate)
	sessions.GET("/:id/export", h.Export)
	sessions.POST("/:id/import", h.Import)
	sessions.POST("/:id/calendar", h.SyncCalendar)
}

// today is the current calendar date in the tracker's time zone
func (h *SessionHandler) today() time.Time {
	return service.DateOf(h.now().In(h.location))
}

// rowView is a table row with dates rendered for display
type rowView struct {
	ItemName      string             `json:"item_name"`
	BasisClause   string             `json:"basis_clause"`
	BaselineKind  model.BaselineKind `json:"baseline_kind"`
	DurationDays  *int               `json:"duration_days"`
	DueDate       string             `json:"due_date"`
	DueDateROC    string             `json:"due_date_roc"`
	SubmittedDate string             `json:"submitted_date"`
	ApprovedDate  string             `json:"approved_date"`
	Status        model.Status       `json:"status"`
	ErrorMsg      string             `json:"error_msg,omitempty"`
}

func isoDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func newRowView(r model.Row) rowView {
	v := rowView{
		ItemName:      r.ItemName,
		BasisClause:   r.BasisClause,
		BaselineKind:  r.BaselineKind,
		DurationDays:  r.DurationDays,
		DueDate:       isoDate(r.DueDate),
		SubmittedDate: isoDate(r.SubmittedDate),
		ApprovedDate:  isoDate(r.ApprovedDate),
		Status:        r.Status,
		ErrorMsg:      r.ErrorMsg,
	}
	if r.DueDate != nil {
		v.DueDateROC = service.FormatROC(*r.DueDate)
	}
	return v
}

func rowViews(rows []model.Row) []rowView {
	return lo.Map(rows, func(r model.Row, _ int) rowView { return newRowView(r) })
}

func baselineView(b model.Baselines) gin.H {
	return gin.H{"sign_date": isoDate(b.SignDate), "award_date": isoDate(b.AwardDate)}
}

// BaselineRequest carries optional baseline dates in any accepted date format
type BaselineRequest struct {
	SignDate  string `json:"sign_date" form:"sign_date"`
	AwardDate string `json:"award_date" form:"award_date"`
}

func (r BaselineRequest) empty() bool {
	return strings.TrimSpace(r.SignDate) == "" && strings.TrimSpace(r.AwardDate) == ""
}

func (r BaselineRequest) parse() (sign, award *time.Time, err error) {
	parse := func(name, v string) (*time.Time, error) {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil
		}
		d, err := service.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return &d, nil
	}
	if sign, err = parse("sign_date", r.SignDate); err != nil {
		return nil, nil, err
	}
	if award, err = parse("award_date", r.AwardDate); err != nil {
		return nil, nil, err
	}
	return sign, award, nil
}

// session loads the :id session of the caller's tenant and tags the request
// context with it. It writes the 404 itself.
func (h *SessionHandler) session(c *gin.Context) (*service.Session, bool) {
	s, err := h.store.Get(c.Param("id"))
	if err != nil || s.Tenant != middleware.GetTenant(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	c.Request = c.Request.WithContext(logger.WithSession(c.Request.Context(), s.ID))
	return s, true
}

// Create opens a new session, optionally with baseline dates
func (h *SessionHandler) Create(c *gin.Context) {
	var req BaselineRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	sign, award, err := req.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s := h.store.Create(middleware.GetTenant(c), middleware.GetUsername(c))
	if err := s.Do(func(t *service.Tracker) error {
		return t.Initialize(nil, sign, award)
	}); err != nil {
		respondError(c, err)
		return
	}

	logger.Info(logger.WithSession(c.Request.Context(), s.ID), "session created")
	c.JSON(http.StatusCreated, s.Info())
}

// List returns the sessions of the current tenant
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.store.ListByTenant(middleware.GetTenant(c))
	infos := lo.Map(sessions, func(s *service.Session, _ int) service.SessionInfo { return s.Info() })
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

// Get returns a session with its baselines and the current tracking table
func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	today := h.today()
	var rows []model.Row
	var baselines model.Baselines
	s.Do(func(t *service.Tracker) error {
		rows = t.Export(today)
		baselines = t.Baselines()
		return nil
	})

	c.JSON(http.StatusOK, gin.H{
		"session":   s.Info(),
		"today":     isoDate(&today),
		"baselines": baselineView(baselines),
		"rows":      rowViews(rows),
	})
}

// Delete drops a session and its stored objects
func (h *SessionHandler) Delete(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	h.store.Delete(s.ID)
	if h.archive != nil {
		if err := h.archive.RemoveSession(c.Request.Context(), s.Tenant, s.ID); err != nil {
			logger.Warn(c.Request.Context(), "failed to remove session objects", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

// SetBaselines changes one or both baseline dates
func (h *SessionHandler) SetBaselines(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req BaselineRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sign_date or award_date required"})
		return
	}
	sign, award, err := req.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	today := h.today()
	var rows []model.Row
	var baselines model.Baselines
	err = s.Do(func(t *service.Tracker) error {
		if sign != nil {
			if err := t.SetBaseline(model.BaselineSignDate, *sign); err != nil {
				return err
			}
		}
		if award != nil {
			if err := t.SetBaseline(model.BaselineAwardDate, *award); err != nil {
				return err
			}
		}
		rows = t.Export(today)
		baselines = t.Baselines()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"baselines": baselineView(baselines), "rows": rowViews(rows)})
}

// initialize replaces the session's table. Baselines not given keep their
// current value. A failed extraction leaves the existing rows in place and
// only adds the failed row.
func (h *SessionHandler) initialize(c *gin.Context, s *service.Session, records []model.Deliverable, sign, award *time.Time) bool {
	today := h.today()
	var rows []model.Row
	var baselines model.Baselines
	err := s.Do(func(t *service.Tracker) error {
		if service.OnlyFailures(records) {
			t.RecordFailure(records)
			rows = t.Export(today)
			baselines = t.Baselines()
			return nil
		}

		current := t.Baselines()
		if sign == nil {
			sign = current.SignDate
		}
		if award == nil {
			award = current.AwardDate
		}
		if err := t.Initialize(records, sign, award); err != nil {
			return err
		}
		rows = t.Export(today)
		baselines = t.Baselines()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return false
	}

	failed := lo.SomeBy(rows, func(r model.Row) bool { return r.ExtractionFailed })
	logger.Info(c.Request.Context(), "tracking table initialized", "rows", len(rows), "extraction_failed", failed)
	c.JSON(http.StatusOK, gin.H{
		"baselines":         baselineView(baselines),
		"rows":              rowViews(rows),
		"extraction_failed": failed,
	})
	return !service.OnlyFailures(records)
}

// UploadDocument extracts deliverables from an uploaded contract file
func (h *SessionHandler) UploadDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, allowed := map[string]string{
		".pdf":  "application/pdf",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}[ext]
	if !allowed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF and DOCX files are allowed"})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}
	if ext == ".pdf" && !bytes.HasPrefix(data, []byte("%PDF")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		return
	}

	var req BaselineRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid baseline fields"})
		return
	}
	sign, award, err := req.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.intake.FromDocument(c.Request.Context(), service.Document{
		Tenant:      s.Tenant,
		SessionID:   s.ID,
		Filename:    filepath.Base(header.Filename),
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if h.initialize(c, s, records, sign, award) {
		s.SetFilename(header.Filename)
	}
}

// TextRequest submits contract text that was extracted elsewhere
type TextRequest struct {
	Text string `json:"text" binding:"required"`
	BaselineRequest
}

// SubmitText extracts deliverables from plain contract text
func (h *SessionHandler) SubmitText(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}
	sign, award, err := req.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.intake.FromText(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	h.initialize(c, s, records, sign, award)
}

// UpdateRequest is one free-text progress sentence
type UpdateRequest struct {
	Sentence string `json:"sentence" binding:"required"`
}

// ApplyUpdate interprets a progress sentence and records it on the table
func (h *SessionHandler) ApplyUpdate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sentence required"})
		return
	}

	today := h.today()
	var update model.Update
	var row model.Row
	err := s.Do(func(t *service.Tracker) error {
		var err error
		update, err = h.interpreter.Interpret(req.Sentence, t.ItemNames(), today.Year())
		if err != nil {
			return err
		}
		row, err = t.ApplyUpdate(update, today)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Info(c.Request.Context(), "progress recorded",
		"item", update.ItemName,
		"action", update.Action,
		"date", isoDate(&update.Date),
	)
	c.JSON(http.StatusOK, gin.H{
		"action":    update.Action,
		"item_name": update.ItemName,
		"date":      isoDate(&update.Date),
		"roc_date":  service.FormatROC(update.Date),
		"row":       newRowView(row),
	})
}

// Export downloads the tracking table as CSV. With archive=true a copy is
// also kept in object storage.
func (h *SessionHandler) Export(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var rows []model.Row
	today := h.today()
	s.Do(func(t *service.Tracker) error {
		rows = t.Export(today)
		return nil
	})

	var buf bytes.Buffer
	if err := service.WriteCSV(&buf, rows); err != nil {
		respondError(c, err)
		return
	}

	if c.Query("archive") == "true" {
		if h.archive == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Object storage is not configured"})
			return
		}
		objectName, err := h.archive.ArchiveExport(c.Request.Context(), s.Tenant, s.ID, buf.Bytes(), h.now())
		if err != nil {
			respondError(c, fmt.Errorf("archive export: %w", err))
			return
		}
		c.Header("X-Archive-Object", objectName)
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="tracking-%s.csv"`, today.Format("20060102")))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Import replaces the table with an edited CSV export
func (h *SessionHandler) Import(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	var req BaselineRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid baseline fields"})
		return
	}
	sign, award, err := req.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := service.ReadCSV(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		if errors.Is(err, service.ErrMissingColumn) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.initialize(c, s, records, sign, award)
}

// SyncCalendar mirrors the session's due dates into the configured calendar
func (h *SessionHandler) SyncCalendar(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Calendar sync is not configured"})
		return
	}

	var rows []model.Row
	today := h.today()
	s.Do(func(t *service.Tracker) error {
		rows = t.Export(today)
		return nil
	})

	result, err := h.calendar.Sync(c.Request.Context(), s.ID, rows)
	if err != nil {
		logger.Error(c.Request.Context(), "calendar sync failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
