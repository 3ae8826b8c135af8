package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/middlewares"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/models/reports"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"bitbucket.org/mmdatafocus/fleet_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	defaultWeekCount = 8
	maxWeekCount     = 52
)

type reportStore interface {
	SaveDraft(ctx context.Context, userId string, rt models.ReportType, monday time.Time, data map[string]any) (*models.SubmittedReport, error)
	Submit(ctx context.Context, userId string, rt models.ReportType, monday time.Time, data map[string]any, operators []models.OperatorOption, now time.Time) (*models.SubmittedReport, error)
	ManagerEdit(ctx context.Context, editorId, userId string, rt models.ReportType, monday time.Time, data map[string]any, operators []models.OperatorOption, now time.Time) (*models.SubmittedReport, error)
	Get(ctx context.Context, id string) (*models.SubmittedReport, error)
	List(ctx context.Context, filter models.ReportFilter) ([]*models.SubmittedReport, error)
}

type permissionSource interface {
	GetUserPermissions(ctx context.Context, userId string) (models.PermissionSet, error)
}

type reportNotifier interface {
	Notify(ctx context.Context, report *models.SubmittedReport, action string)
}

// fleetDirectory serves the plant and operator pick lists used by the production form.
type fleetDirectory interface {
	ListPlants(ctx context.Context) ([]*models.Plant, error)
	ListOperators(ctx context.Context, plantCode string) ([]*models.Operator, error)
}

type dbDirectory struct {
	db *gorm.DB
}

func (d dbDirectory) ListPlants(ctx context.Context) ([]*models.Plant, error) {
	return models.ListPlants(ctx, d.db)
}

func (d dbDirectory) ListOperators(ctx context.Context, plantCode string) ([]*models.Operator, error) {
	return models.ListOperators(ctx, d.db, plantCode)
}

// App holds what the HTTP handlers need. Lookups that go through the request
// dataloaders are funcs so tests can run without a database.
type App struct {
	Registry        *models.ReportTypeRegistry
	Reports         reportStore
	Permissions     permissionSource
	Overdue         reports.OverdueResolver
	Events          reportNotifier
	Directory       fleetDirectory
	OperatorOptions func(ctx context.Context, ids []string) []models.OperatorOption
	UserNames       func(ctx context.Context, ids []string) map[string]string
	Location        *time.Location
	Logger          *logrus.Logger
}

// NewApp wires the database backed stores.
func NewApp(db *gorm.DB) *App {
	permissions := models.NewPermissionStore(db)
	reportStore := models.NewReportStore(db)
	registry := models.DefaultRegistry()
	return &App{
		Registry:        registry,
		Reports:         reportStore,
		Permissions:     permissions,
		Overdue:         reports.NewCachedResolver(reports.NewResolver(registry, permissions, reportStore)),
		Events:          workflow.NewReportEventPublisher(),
		Directory:       dbDirectory{db: db},
		OperatorOptions: middlewares.GetOperatorOptions,
		UserNames:       loaderUserNames(config.GetLogger()),
		Location:        config.AppLocation(),
		Logger:          config.GetLogger(),
	}
}

// loaderUserNames resolves display names through the request's profile loader. Ids that
// fail to load are logged and left out.
func loaderUserNames(logger *logrus.Logger) func(ctx context.Context, ids []string) map[string]string {
	return func(ctx context.Context, ids []string) map[string]string {
		names := make(map[string]string, len(ids))
		if len(ids) == 0 || middlewares.For(ctx) == nil {
			return names
		}
		profiles, errs := middlewares.GetUserProfiles(ctx, ids)
		for i, err := range errs {
			if err != nil && i < len(ids) {
				config.LogError(logger, "handlers.go", "loaderUserNames", "load profile", ids[i], err)
			}
		}
		for _, p := range profiles {
			if p != nil {
				names[p.ID] = p.DisplayName()
			}
		}
		return names
	}
}

func (a *App) Register(r gin.IRoutes) {
	r.GET("/report-types", a.listReportTypesHandler())
	r.GET("/report-types/:name", a.getReportTypeHandler())
	r.GET("/weeks", a.listWeeksHandler())
	r.GET("/plants", a.listPlantsHandler())
	r.GET("/operators", a.listOperatorsHandler())
	r.GET("/reports", a.listReportsHandler())
	r.GET("/reports/:name/:week", a.getReportHandler())
	r.GET("/reports/:name/:week/metrics", a.reportMetricsHandler())
	r.PUT("/reports/:name/:week", a.saveDraftHandler())
	r.POST("/reports/:name/:week/submit", a.submitReportHandler())
	r.PUT("/reports/:name/:week/users/:userId", a.managerEditHandler())
	r.GET("/overdue", a.overdueHandler())
}

func (a *App) location() *time.Location {
	if a.Location == nil {
		return time.Local
	}
	return a.Location
}

func currentUser(c *gin.Context) string {
	userId, _ := utils.GetUserIdFromContext(c.Request.Context())
	return userId
}

// writeError maps domain errors to status codes. Unexpected errors are attached to the
// gin context so customErrorLogger records them.
func writeError(c *gin.Context, err error) {
	var validationErr *utils.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": validationErr.Message})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, utils.ErrorForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, utils.ErrorUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (a *App) reportType(c *gin.Context) (models.ReportType, bool) {
	rt, ok := a.Registry.ByName(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown report type"})
	}
	return rt, ok
}

// weekParam reads :week as a date and maps it onto its canonical Monday.
func (a *App) weekParam(c *gin.Context) (time.Time, bool) {
	t, ok := utils.ParseDateInput(c.Param("week"), a.location())
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "week must be a date (YYYY-MM-DD)"})
		return time.Time{}, false
	}
	return utils.NormalizeWeekAnchor(t), true
}

func (a *App) permissions(c *gin.Context, userId string) (models.PermissionSet, bool) {
	perms, err := a.Permissions.GetUserPermissions(c.Request.Context(), userId)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return perms, true
}

func (a *App) operatorsFor(ctx context.Context, data map[string]any) []models.OperatorOption {
	if a.OperatorOptions == nil {
		return nil
	}
	var ids []string
	for _, row := range models.ParseProductionRows(data["rows"]) {
		if row.OperatorId != "" {
			ids = append(ids, row.OperatorId)
		}
	}
	return a.OperatorOptions(ctx, utils.UniqueSlice(ids))
}

func (a *App) notify(ctx context.Context, report *models.SubmittedReport, action string) {
	if a.Events != nil {
		a.Events.Notify(ctx, report, action)
	}
}

func (a *App) listReportTypesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Registry.All())
	}
}

func (a *App) getReportTypeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rt, ok := a.reportType(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, rt)
	}
}

type weekResponse struct {
	Week    string `json:"week"`
	End     string `json:"end"`
	Label   string `json:"label"`
	Verbose string `json:"verbose"`
	Ended   bool   `json:"ended"`
	Next    string `json:"next"`
}

func (a *App) listWeeksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		loc := a.location()
		today := utils.GetRequestTimeFromContext(c.Request.Context()).In(loc)
		from := today
		if raw := c.Query("from"); raw != "" {
			t, ok := utils.ParseDateInput(raw, loc)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a date (YYYY-MM-DD)"})
				return
			}
			from = t
		}
		n := defaultWeekCount
		if raw := c.Query("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
				return
			}
			n = min(v, maxWeekCount)
		}

		weeks := make([]weekResponse, 0, n)
		for _, iso := range utils.LastNWeekIsos(n, from) {
			w, ok := utils.WeekRangeFromMondayIso(iso, loc)
			if !ok {
				continue
			}
			weeks = append(weeks, weekResponse{
				Week:    w.StartIso(),
				End:     w.EndIso(),
				Label:   w.Label(),
				Verbose: utils.FormatVerbose(w.Start),
				Ended:   utils.WeekHasEnded(w, today),
				Next:    utils.IsoDate(utils.NextWeek(w.Start)),
			})
		}
		c.JSON(http.StatusOK, weeks)
	}
}

func (a *App) listPlantsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		plants, err := a.Directory.ListPlants(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, plants)
	}
}

func (a *App) listOperatorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		operators, err := a.Directory.ListOperators(c.Request.Context(), c.Query("plant"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.OperatorOptions(operators))
	}
}

func (a *App) saveDraftHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rt, ok := a.reportType(c)
		if !ok {
			return
		}
		monday, ok := a.weekParam(c)
		if !ok {
			return
		}
		var input models.NewReportData
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		report, err := a.Reports.SaveDraft(c.Request.Context(), currentUser(c), rt, monday, input.Data)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, reportResponse(report, ""))
	}
}

func (a *App) submitReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "reports.submit")
		defer span.End()

		rt, ok := a.reportType(c)
		if !ok {
			return
		}
		monday, ok := a.weekParam(c)
		if !ok {
			return
		}
		userId := currentUser(c)
		perms, ok := a.permissions(c, userId)
		if !ok {
			return
		}
		if len(a.Registry.AssignedTo(perms, []string{rt.Name})) == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "report type is not assigned to you"})
			return
		}
		var input models.NewReportData
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		span.SetAttributes(
			attribute.String("report.name", rt.Name),
			attribute.String("report.week", utils.IsoDate(monday)),
		)

		now := utils.GetRequestTimeFromContext(ctx)
		report, err := a.Reports.Submit(ctx, userId, rt, monday, input.Data, a.operatorsFor(ctx, input.Data), now)
		if err != nil {
			writeError(c, err)
			return
		}
		a.notify(ctx, report, config.ReportEventSubmitted)
		c.JSON(http.StatusOK, reportResponse(report, ""))
	}
}

func (a *App) managerEditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rt, ok := a.reportType(c)
		if !ok {
			return
		}
		monday, ok := a.weekParam(c)
		if !ok {
			return
		}
		editorId := currentUser(c)
		perms, ok := a.permissions(c, editorId)
		if !ok {
			return
		}
		if !perms.HasAny(rt.ReviewPermissions) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		var input models.NewReportData
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		now := utils.GetRequestTimeFromContext(ctx)
		report, err := a.Reports.ManagerEdit(ctx, editorId, c.Param("userId"), rt, monday, input.Data, a.operatorsFor(ctx, input.Data), now)
		if err != nil {
			writeError(c, err)
			return
		}
		if report.Completed {
			a.notify(ctx, report, config.ReportEventEdited)
		}
		c.JSON(http.StatusOK, reportResponse(report, ""))
	}
}

type reportItem struct {
	*models.SubmittedReport
	Status   models.ReportStatus `json:"status"`
	WeekIso  string              `json:"week_iso"`
	UserName string              `json:"user_name,omitempty"`
	Data     map[string]any      `json:"data"`
}

func reportResponse(report *models.SubmittedReport, userName string) reportItem {
	item := reportItem{
		SubmittedReport: report,
		Status:          report.Status(),
		UserName:        userName,
		Data:            report.DataMap(),
	}
	if report.Week != nil {
		item.WeekIso = utils.IsoDate(*report.Week)
	}
	return item
}

// listReportsHandler returns the caller's own reports, or for reviewers every user's
// reports of the types they review.
func (a *App) listReportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userId := currentUser(c)
		perms, ok := a.permissions(c, userId)
		if !ok {
			return
		}

		filter := models.ReportFilter{}
		if raw := c.Query("week"); raw != "" {
			t, ok := utils.ParseDateInput(raw, a.location())
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "week must be a date (YYYY-MM-DD)"})
				return
			}
			monday := utils.NormalizeWeekAnchor(t)
			filter.Week = &monday
		}
		names := utils.SplitAndTrim(c.Query("name"))

		reviewable := a.Registry.ReviewableBy(perms)
		if len(reviewable) > 0 {
			filter.ReportNames = reviewable
			if len(names) > 0 {
				filter.ReportNames = intersect(reviewable, names)
			}
			filter.UserId = c.Query("user_id")
		} else {
			filter.UserId = userId
			if len(names) > 0 {
				filter.ReportNames = names
			}
		}

		list, err := a.Reports.List(ctx, filter)
		if err != nil {
			writeError(c, err)
			return
		}
		userIds := make([]string, 0, len(list))
		for _, r := range list {
			userIds = append(userIds, r.UserId)
		}
		userNames := map[string]string{}
		if a.UserNames != nil {
			userNames = a.UserNames(ctx, utils.UniqueSlice(userIds))
		}
		items := make([]reportItem, 0, len(list))
		for _, r := range list {
			items = append(items, reportResponse(r, userNames[r.UserId]))
		}
		c.JSON(http.StatusOK, items)
	}
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, v := range b {
		in[v] = true
	}
	out := []string{}
	for _, v := range a {
		if in[v] {
			out = append(out, v)
		}
	}
	return out
}

// loadReport resolves :name and :id-or-:week to one report the caller may read: their own,
// or any report of a type they review. :week may also carry a report id.
func (a *App) loadReport(c *gin.Context) (*models.SubmittedReport, models.ReportType, bool) {
	ctx := c.Request.Context()
	rt, ok := a.reportType(c)
	if !ok {
		return nil, rt, false
	}
	userId := currentUser(c)
	owner := c.DefaultQuery("user_id", userId)

	var report *models.SubmittedReport
	if t, isDate := utils.ParseDateInput(c.Param("week"), a.location()); isDate {
		monday := utils.NormalizeWeekAnchor(t)
		list, err := a.Reports.List(ctx, models.ReportFilter{ReportNames: []string{rt.Name}, UserId: owner, Week: &monday})
		if err != nil {
			writeError(c, err)
			return nil, rt, false
		}
		if len(list) == 0 {
			writeError(c, utils.ErrorRecordNotFound)
			return nil, rt, false
		}
		report = list[0]
	} else {
		r, err := a.Reports.Get(ctx, c.Param("week"))
		if err != nil {
			writeError(c, err)
			return nil, rt, false
		}
		if r.ReportName != rt.Name {
			writeError(c, utils.ErrorRecordNotFound)
			return nil, rt, false
		}
		report = r
	}

	if report.UserId != userId {
		perms, ok := a.permissions(c, userId)
		if !ok {
			return nil, rt, false
		}
		if !perms.HasAny(rt.ReviewPermissions) {
			writeError(c, utils.ErrorForbidden)
			return nil, rt, false
		}
	}
	return report, rt, true
}

func (a *App) getReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, _, ok := a.loadReport(c)
		if !ok {
			return
		}
		userName := ""
		if a.UserNames != nil {
			userName = a.UserNames(c.Request.Context(), []string{report.UserId})[report.UserId]
		}
		c.JSON(http.StatusOK, reportResponse(report, userName))
	}
}

func (a *App) reportMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, rt, ok := a.loadReport(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var operators []models.OperatorOption
		if a.OperatorOptions != nil {
			operators = a.OperatorOptions(ctx, reports.OperatorIdsInReport(*report))
		}
		c.JSON(http.StatusOK, reports.ComputeReportMetrics(*report, rt, operators, a.location()))
	}
}

// overdueHandler lists overdue assignments limited to the report types the caller reviews.
func (a *App) overdueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		loc := a.location()
		today := utils.GetRequestTimeFromContext(ctx).In(loc)
		if raw := c.Query("date"); raw != "" {
			t, ok := utils.ParseDateInput(raw, loc)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be a date (YYYY-MM-DD)"})
				return
			}
			today = t
		}
		perms, ok := a.permissions(c, currentUser(c))
		if !ok {
			return
		}
		allow := a.Registry.ReviewableBy(perms)
		if len(allow) == 0 {
			writeError(c, utils.ErrorForbidden)
			return
		}
		sort.Strings(allow)
		entries, err := a.Overdue.Resolve(ctx, today, allow)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"date":    utils.IsoDate(today),
			"count":   len(entries),
			"entries": entries,
		})
	}
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// reportPubSubHandler consumes report events pushed by the Pub/Sub subscription.
// Malformed messages are acked so they are not redelivered forever.
func reportPubSubHandler(cache reports.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "handlers.go", "reportPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		var msg PubSubMessage
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "handlers.go", "reportPubSubHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var evt config.ReportEvent
		if err := json.Unmarshal(msg.Message.Data, &evt); err != nil {
			config.LogError(logger, "handlers.go", "reportPubSubHandler", "Unmarshal report event", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if strings.TrimSpace(evt.CorrelationId) == "" {
			evt.CorrelationId = msg.Message.ID
		}

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), evt.CorrelationId)
		if err := workflow.ProcessReportEvent(ctx, logger, cache, evt); err != nil {
			if errors.Is(err, workflow.ErrInvalidReportEvent) {
				config.LogError(logger, "handlers.go", "reportPubSubHandler", "invalid report event", evt, err)
				c.Status(http.StatusNoContent)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":          "reportPubSubHandler",
				"report_id":      evt.ReportId,
				"message_id":     msg.Message.ID,
				"correlation_id": evt.CorrelationId,
			}).Error("pubsub processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry.
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
