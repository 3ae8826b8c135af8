package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/middlewares"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/models/reports"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type savedCall struct {
	kind     string
	userId   string
	editorId string
	name     string
	monday   time.Time
	data     map[string]any
}

type fakeStore struct {
	calls   []savedCall
	err     error
	reports map[string]*models.SubmittedReport
	list    []*models.SubmittedReport
	filter  models.ReportFilter
}

func (s *fakeStore) record(kind, editorId, userId string, rt models.ReportType, monday time.Time, data map[string]any, completed bool) (*models.SubmittedReport, error) {
	s.calls = append(s.calls, savedCall{kind: kind, userId: userId, editorId: editorId, name: rt.Name, monday: monday, data: data})
	if s.err != nil {
		return nil, s.err
	}
	week := utils.DateColumn(monday)
	raw, _ := json.Marshal(data)
	return &models.SubmittedReport{ID: "r-1", UserId: userId, ReportName: rt.Name, Week: &week, Data: raw, Completed: completed}, nil
}

func (s *fakeStore) SaveDraft(ctx context.Context, userId string, rt models.ReportType, monday time.Time, data map[string]any) (*models.SubmittedReport, error) {
	return s.record("draft", "", userId, rt, monday, data, false)
}

func (s *fakeStore) Submit(ctx context.Context, userId string, rt models.ReportType, monday time.Time, data map[string]any, operators []models.OperatorOption, now time.Time) (*models.SubmittedReport, error) {
	return s.record("submit", "", userId, rt, monday, data, true)
}

func (s *fakeStore) ManagerEdit(ctx context.Context, editorId, userId string, rt models.ReportType, monday time.Time, data map[string]any, operators []models.OperatorOption, now time.Time) (*models.SubmittedReport, error) {
	return s.record("edit", editorId, userId, rt, monday, data, true)
}

func (s *fakeStore) Get(ctx context.Context, id string) (*models.SubmittedReport, error) {
	if r, ok := s.reports[id]; ok {
		return r, nil
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeStore) List(ctx context.Context, filter models.ReportFilter) ([]*models.SubmittedReport, error) {
	s.filter = filter
	return s.list, nil
}

type fakePerms map[string]models.PermissionSet

func (f fakePerms) GetUserPermissions(ctx context.Context, userId string) (models.PermissionSet, error) {
	if p, ok := f[userId]; ok {
		return p, nil
	}
	return models.PermissionSet{}, nil
}

type fakeOverdue struct {
	today time.Time
	allow []string
}

func (f *fakeOverdue) Resolve(ctx context.Context, today time.Time, allow []string) ([]reports.OverdueEntry, error) {
	f.today, f.allow = today, allow
	return []reports.OverdueEntry{{UserId: "u2", ReportName: "plant_manager", WeekAnchor: "2025-01-06"}}, nil
}

type fakeNotifier struct {
	actions []string
}

func (f *fakeNotifier) Notify(ctx context.Context, report *models.SubmittedReport, action string) {
	f.actions = append(f.actions, action)
}

type testEnv struct {
	app      *App
	store    *fakeStore
	overdue  *fakeOverdue
	notifier *fakeNotifier
	router   *gin.Engine
}

func newTestEnv(perms fakePerms) *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		store:    &fakeStore{reports: map[string]*models.SubmittedReport{}},
		overdue:  &fakeOverdue{},
		notifier: &fakeNotifier{},
	}
	env.app = &App{
		Registry:    models.DefaultRegistry(),
		Reports:     env.store,
		Permissions: perms,
		Overdue:     env.overdue,
		Events:      env.notifier,
		Location:    time.UTC,
		UserNames: func(ctx context.Context, ids []string) map[string]string {
			names := map[string]string{}
			for _, id := range ids {
				names[id] = "Name " + id
			}
			return names
		},
	}
	r := gin.New()
	// stands in for AuthMiddleware: the caller is X-User
	r.Use(func(c *gin.Context) {
		ctx := utils.SetUserIdInContext(c.Request.Context(), c.GetHeader("X-User"))
		ctx = utils.SetRequestTimeInContext(ctx, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	env.app.Register(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func managerPerms() fakePerms {
	return fakePerms{
		"u1":   models.NewPermissionSet(models.AssignedPermission("plant_manager")),
		"boss": models.NewPermissionSet(models.ReviewPermission("plant_manager"), models.ReviewPermission("safety_manager")),
	}
}

func TestSubmitReport(t *testing.T) {
	env := newTestEnv(managerPerms())
	body := gin.H{"data": gin.H{"plant": "P1", "total_yards": 100, "total_hours": 20}}

	w := env.do(t, http.MethodPost, "/reports/plant_manager/2025-01-08/submit", "u1", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(env.store.calls) != 1 {
		t.Fatalf("store calls = %d", len(env.store.calls))
	}
	call := env.store.calls[0]
	if call.kind != "submit" || call.userId != "u1" || utils.IsoDate(call.monday) != "2025-01-06" {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(env.notifier.actions) != 1 || env.notifier.actions[0] != config.ReportEventSubmitted {
		t.Fatalf("notifier actions = %v", env.notifier.actions)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != string(models.ReportStatusCompleted) || resp["week_iso"] != "2025-01-06" {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestSubmitReportRejections(t *testing.T) {
	body := gin.H{"data": gin.H{"plant": "P1"}}
	cases := []struct {
		name   string
		path   string
		user   string
		body   any
		err    error
		status int
	}{
		{"unknown type", "/reports/nope/2025-01-06/submit", "u1", body, nil, http.StatusNotFound},
		{"bad week", "/reports/plant_manager/someday/submit", "u1", body, nil, http.StatusBadRequest},
		{"not assigned", "/reports/safety_manager/2025-01-06/submit", "u1", body, nil, http.StatusForbidden},
		{"missing data", "/reports/plant_manager/2025-01-06/submit", "u1", gin.H{}, nil, http.StatusBadRequest},
		{"validation", "/reports/plant_manager/2025-01-06/submit", "u1", body, utils.NewValidationError("Missing required fields: Total Yards Delivered"), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		env := newTestEnv(managerPerms())
		env.store.err = tc.err
		w := env.do(t, http.MethodPost, tc.path, tc.user, tc.body)
		if w.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d (%s)", tc.name, w.Code, tc.status, w.Body.String())
		}
		if len(env.notifier.actions) != 0 {
			t.Fatalf("%s: nothing should be published", tc.name)
		}
	}
}

func TestValidationMessageIsReturned(t *testing.T) {
	env := newTestEnv(managerPerms())
	env.store.err = utils.NewValidationError("Missing required fields: Plant")
	w := env.do(t, http.MethodPost, "/reports/plant_manager/2025-01-06/submit", "u1", gin.H{"data": gin.H{}})
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "Missing required fields: Plant" {
		t.Fatalf("error = %q", resp["error"])
	}
}

func TestSaveDraftNormalizesSundayAnchor(t *testing.T) {
	env := newTestEnv(managerPerms())
	w := env.do(t, http.MethodPut, "/reports/plant_manager/2025-01-05", "u1", gin.H{"data": gin.H{"plant": "P1"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := utils.IsoDate(env.store.calls[0].monday); got != "2025-01-06" {
		t.Fatalf("monday = %s, want 2025-01-06", got)
	}
	if len(env.notifier.actions) != 0 {
		t.Fatalf("drafts are not published")
	}
}

func TestManagerEdit(t *testing.T) {
	env := newTestEnv(managerPerms())
	body := gin.H{"data": gin.H{"plant": "P2"}}

	if w := env.do(t, http.MethodPut, "/reports/plant_manager/2025-01-06/users/u1", "u1", body); w.Code != http.StatusForbidden {
		t.Fatalf("non reviewer status = %d", w.Code)
	}
	w := env.do(t, http.MethodPut, "/reports/plant_manager/2025-01-06/users/u1", "boss", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	call := env.store.calls[0]
	if call.editorId != "boss" || call.userId != "u1" {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(env.notifier.actions) != 1 || env.notifier.actions[0] != config.ReportEventEdited {
		t.Fatalf("notifier actions = %v", env.notifier.actions)
	}
}

func TestListReportsScopes(t *testing.T) {
	env := newTestEnv(managerPerms())
	week := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	env.store.list = []*models.SubmittedReport{{ID: "a", UserId: "u1", ReportName: "plant_manager", Week: &week}}

	w := env.do(t, http.MethodGet, "/reports?user_id=someone", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.store.filter.UserId != "u1" || env.store.filter.ReportNames != nil {
		t.Fatalf("non reviewer filter = %+v", env.store.filter)
	}

	w = env.do(t, http.MethodGet, "/reports?name=plant_manager,general_manager&week=2025-01-05", "boss", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	f := env.store.filter
	if len(f.ReportNames) != 1 || f.ReportNames[0] != "plant_manager" || f.UserId != "" {
		t.Fatalf("reviewer filter = %+v", f)
	}
	if f.Week == nil || utils.IsoDate(*f.Week) != "2025-01-06" {
		t.Fatalf("week filter = %v", f.Week)
	}
	var items []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0]["user_name"] != "Name u1" || items[0]["status"] != "draft" {
		t.Fatalf("items = %v", items)
	}
}

func TestReportMetricsAccess(t *testing.T) {
	env := newTestEnv(managerPerms())
	week := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	env.store.reports["r-9"] = &models.SubmittedReport{
		ID: "r-9", UserId: "u1", ReportName: "plant_manager", Week: &week, Completed: true,
		Data: []byte(`{"plant":"P1","total_yards":120,"total_hours":20,"yardage_lost":2}`),
	}

	w := env.do(t, http.MethodGet, "/reports/plant_manager/r-9/metrics", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner status = %d, body %s", w.Code, w.Body.String())
	}
	var m reports.ReportMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Yardage == nil || m.Yardage.YPH.Display != "6.00" || m.Yardage.YPH.Grade != models.GradeExcellent {
		t.Fatalf("yardage = %+v", m.Yardage)
	}
	if m.Week != "2025-01-06" || m.Efficiency != nil {
		t.Fatalf("metrics = %+v", m)
	}

	if w := env.do(t, http.MethodGet, "/reports/plant_manager/r-9/metrics", "stranger", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/reports/plant_manager/r-9/metrics", "boss", nil); w.Code != http.StatusOK {
		t.Fatalf("reviewer status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/reports/safety_manager/r-9/metrics", "u1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("type mismatch status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/reports/plant_manager/missing/metrics", "u1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", w.Code)
	}
}

func TestOverdueHandler(t *testing.T) {
	env := newTestEnv(managerPerms())

	if w := env.do(t, http.MethodGet, "/overdue", "u1", nil); w.Code != http.StatusForbidden {
		t.Fatalf("non reviewer status = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/overdue?date=2025-01-20", "boss", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if utils.IsoDate(env.overdue.today) != "2025-01-20" {
		t.Fatalf("today = %v", env.overdue.today)
	}
	if len(env.overdue.allow) != 2 || env.overdue.allow[0] != "plant_manager" || env.overdue.allow[1] != "safety_manager" {
		t.Fatalf("allow = %v", env.overdue.allow)
	}
	var resp struct {
		Count   int                    `json:"count"`
		Entries []reports.OverdueEntry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Entries[0].UserId != "u2" {
		t.Fatalf("resp = %+v", resp)
	}

	env.do(t, http.MethodGet, "/overdue", "boss", nil)
	if utils.IsoDate(env.overdue.today) != "2025-01-15" {
		t.Fatalf("default today = %v, want request time", env.overdue.today)
	}
}

func TestListWeeks(t *testing.T) {
	env := newTestEnv(managerPerms())
	w := env.do(t, http.MethodGet, "/weeks?n=2", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var weeks []weekResponse
	if err := json.Unmarshal(w.Body.Bytes(), &weeks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(weeks) != 2 {
		t.Fatalf("weeks = %+v", weeks)
	}
	if weeks[0].Week != "2025-01-13" || weeks[0].Ended || weeks[0].End != "2025-01-18" {
		t.Fatalf("current week = %+v", weeks[0])
	}
	if weeks[1].Week != "2025-01-06" || !weeks[1].Ended || weeks[1].Label != "Jan 6 - Jan 11, 2025" || weeks[1].Next != "2025-01-13" {
		t.Fatalf("previous week = %+v", weeks[1])
	}

	if w := env.do(t, http.MethodGet, "/weeks?n=-1", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("negative n status = %d", w.Code)
	}
}

func TestReportPubSubHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cache := reports.NewMemoryCache()
	key := reports.OverdueCachePrefix + "2025-01-15:*all*"
	if err := cache.Set(context.Background(), key, []string{"x"}, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := gin.New()
	r.POST("/pubsub", reportPubSubHandler(cache))

	post := func(payload []byte) int {
		req := httptest.NewRequest(http.MethodPost, "/pubsub", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := post([]byte("not json")); code != http.StatusNoContent {
		t.Fatalf("malformed status = %d", code)
	}

	evt, _ := json.Marshal(config.ReportEvent{ReportName: "plant_manager", UserId: "u1", Action: config.ReportEventSubmitted})
	var envelope PubSubMessage
	envelope.Message.Data = evt
	envelope.Message.ID = "m-1"
	payload, _ := json.Marshal(envelope)
	if code := post(payload); code != http.StatusNoContent {
		t.Fatalf("status = %d", code)
	}
	var dest []string
	if ok, _ := cache.Get(context.Background(), key, &dest); ok {
		t.Fatalf("overdue snapshot should be invalidated")
	}
}

type fakeDirectory struct {
	plant string
}

func (d *fakeDirectory) ListPlants(ctx context.Context) ([]*models.Plant, error) {
	return []*models.Plant{{PlantCode: "P1", PlantName: "North"}}, nil
}

func (d *fakeDirectory) ListOperators(ctx context.Context, plantCode string) ([]*models.Operator, error) {
	d.plant = plantCode
	return []*models.Operator{{ID: "op1", FirstName: "Ana", LastName: "Diaz"}, {ID: "op2", EmployeeId: "E-7"}}, nil
}

func TestDirectoryHandlers(t *testing.T) {
	env := newTestEnv(managerPerms())
	dir := &fakeDirectory{}
	env.app.Directory = dir

	w := env.do(t, http.MethodGet, "/operators?plant=P1", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var options []models.OperatorOption
	if err := json.Unmarshal(w.Body.Bytes(), &options); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dir.plant != "P1" || len(options) != 2 || options[0].Name != "Ana Diaz" || options[1].Name != "E-7" {
		t.Fatalf("options = %+v (plant %q)", options, dir.plant)
	}

	if w := env.do(t, http.MethodGet, "/plants", "u1", nil); w.Code != http.StatusOK {
		t.Fatalf("plants status = %d", w.Code)
	}
}

func TestLoaderUserNamesLogsFailures(t *testing.T) {
	batch := func(ctx context.Context, ids []string) []*dataloader.Result[*models.UserProfile] {
		results := make([]*dataloader.Result[*models.UserProfile], len(ids))
		for i, id := range ids {
			if id == "broken" {
				results[i] = &dataloader.Result[*models.UserProfile]{Error: errors.New("connection reset")}
				continue
			}
			results[i] = &dataloader.Result[*models.UserProfile]{Data: &models.UserProfile{ID: id, FirstName: "Dana", LastName: "Lee"}}
		}
		return results
	}
	ctx := middlewares.WithLoaders(context.Background(), &middlewares.Loaders{
		UserProfileLoader: dataloader.NewBatchedLoader(batch),
	})
	logger, hook := logtest.NewNullLogger()

	names := loaderUserNames(logger)(ctx, []string{"u1", "broken"})
	if names["u1"] != "Dana Lee" {
		t.Fatalf("names = %v", names)
	}
	if _, ok := names["broken"]; ok {
		t.Fatalf("failed profile should be left out: %v", names)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel || entry.Data["data"] != "broken" {
		t.Fatalf("loader failure not logged: %+v", hook.AllEntries())
	}

	if got := loaderUserNames(logger)(context.Background(), []string{"u1"}); len(got) != 0 {
		t.Fatalf("expected no names outside the loader middleware, got %v", got)
	}
}
