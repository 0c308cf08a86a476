package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/smallbiznis/gigledger/internal/docstore/memory"
	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/invoice/autopay"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/gigledger/internal/invoice/repository"
	invoicesvc "github.com/smallbiznis/gigledger/internal/invoice/service"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
	marketrepo "github.com/smallbiznis/gigledger/internal/marketplace/repository"
	"github.com/smallbiznis/gigledger/internal/notification/dedup"
	"github.com/smallbiznis/gigledger/internal/notification/enrich"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	"github.com/smallbiznis/gigledger/internal/notification/handlers"
	"github.com/smallbiznis/gigledger/internal/notification/store"
	"github.com/smallbiznis/gigledger/internal/observability"
	"github.com/smallbiznis/gigledger/internal/payment/wallet"
	"github.com/smallbiznis/gigledger/internal/ratelimit"
	"github.com/smallbiznis/gigledger/internal/reconciliation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	srv      *Server
	bus      *eventbus.Bus
	market   marketdomain.Repository
	invoices invoicedomain.Service
	autopay  *autopay.Service
	wallets  *wallet.Processor
}

type serverOption func(*ServerParams)

func withLimiter(l *ratelimit.PublishLimiter) serverOption {
	return func(p *ServerParams) { p.Limiter = l }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	ctx := context.Background()
	docs := memory.New()
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	bus := eventbus.New(eventbus.Options{
		Retry:  eventbus.RetryPolicy{MaxAttempts: 1},
		Jitter: func() time.Duration { return 0 },
	})
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	market := marketrepo.New(docs, nil)
	invoiceRepo := invoicerepo.New(docs, nil)
	st := store.New(docs, clk, nil)
	engine := dedup.NewEngine(st, dedup.NewMemoryCache(time.Hour, clk), clk, node, nil, nil)
	flags := config.NewStaticFlags(config.NotificationFlags{SingleEmitterEnabled: true, DisableLegacyPathForPayments: true})
	gw := gateway.New(flags, engine, dedup.Options{ScanLimit: 1000, RepeatWindow: time.Minute}, nil, nil)
	resolver := enrich.NewResolver(market, invoiceRepo, nil)
	handlers.Register(bus, handlers.New(gw, resolver, nil))

	wallets := wallet.NewProcessor(docs, node, clk, nil)
	invoices := invoicesvc.New(invoiceRepo, bus, clk, nil, nil)
	pay := autopay.New(invoiceRepo, wallets, bus, clk, autopay.Options{RetryAttempts: 3, RetryDelay: 24 * time.Hour}, nil, nil)
	job := reconciliation.New(reconciliation.Deps{
		Docs: docs, Market: market, Invoices: invoiceRepo, Index: st,
		Resolver: resolver, Emitter: gw, Clock: clk, Node: node,
	})

	params := ServerParams{
		Gin:        NewEngine(observability.Config{Environment: "test"}),
		Cfg:        config.Config{Environment: "test"},
		Clock:      clk,
		Bus:        bus,
		Store:      st,
		Gateway:    gw,
		InvoiceSvc: invoices,
		Autopay:    pay,
		Reconciler: job,
		Log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	require.NoError(t, market.SaveOrganization(ctx, marketdomain.Organization{ID: "org-1", Name: "Corlax Wellness"}))
	require.NoError(t, market.SaveUser(ctx, marketdomain.User{ID: 31, Name: "Ada", Role: marketdomain.RoleCommissioner, OrganizationID: "org-1"}))
	require.NoError(t, market.SaveUser(ctx, marketdomain.User{ID: 1, Name: "Tobi Philly", Role: marketdomain.RoleFreelancer}))
	require.NoError(t, market.SaveProject(ctx, marketdomain.Project{ID: "C-009", Title: "Brand refresh", CommissionerID: 31, FreelancerID: 1}))

	return &testServer{
		srv:      NewServer(params),
		bus:      bus,
		market:   market,
		invoices: invoices,
		autopay:  pay,
		wallets:  wallets,
	}
}

func (ts *testServer) task(t *testing.T, id string, approved bool) {
	t.Helper()
	require.NoError(t, ts.market.SaveTask(context.Background(), marketdomain.Task{
		ID: id, ProjectID: "C-009", Title: "Task " + id, Rate: 500, Approved: approved,
	}))
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type notificationItem struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TargetID int64  `json:"targetId"`
	Read     bool   `json:"read"`
	Actioned bool   `json:"actioned"`
}

type notificationPage struct {
	Data     []notificationItem `json:"data"`
	PageInfo struct {
		NextPageToken string `json:"next_page_token"`
		HasMore       bool   `json:"has_more"`
	} `json:"page_info"`
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublishEventSyncWritesNotification(t *testing.T) {
	ts := newTestServer(t)
	ts.task(t, "T-1", true)

	w := ts.do(t, http.MethodPost, "/api/events/task.approved?sync=true", map[string]any{
		"projectId": "C-009", "taskId": "T-1", "approvedBy": 31,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[struct {
		Event    string           `json:"event"`
		Outcomes []handlerOutcome `json:"outcomes"`
	}](t, w)
	assert.Equal(t, "task.approved", out.Event)
	require.Len(t, out.Outcomes, 1)
	assert.Empty(t, out.Outcomes[0].Error)

	w = ts.do(t, http.MethodGet, "/api/users/1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[notificationPage](t, w)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "task_approved", page.Data[0].Type)
	assert.False(t, page.Data[0].Read)
	assert.False(t, page.PageInfo.HasMore)

	// the commissioner got nothing for a task approval
	w = ts.do(t, http.MethodGet, "/api/users/31/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[notificationPage](t, w).Data)
}

func TestNotificationReadAndAction(t *testing.T) {
	ts := newTestServer(t)
	ts.task(t, "T-1", true)
	w := ts.do(t, http.MethodPost, "/api/events/task.approved?sync=true", map[string]any{"projectId": "C-009", "taskId": "T-1"})
	require.Equal(t, http.StatusOK, w.Code)

	page := decode[notificationPage](t, ts.do(t, http.MethodGet, "/api/users/1/notifications", nil))
	require.Len(t, page.Data, 1)
	id := page.Data[0].ID

	w = ts.do(t, http.MethodPost, "/api/notifications/"+id+"/read", map[string]any{"userId": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	unread := decode[dataEnvelope[map[string]int]](t, ts.do(t, http.MethodGet, "/api/users/1/notifications/unread-count", nil))
	assert.Equal(t, 0, unread.Data["unread"])

	w = ts.do(t, http.MethodPost, "/api/notifications/"+id+"/action", nil, HeaderActorID, "1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page = decode[notificationPage](t, ts.do(t, http.MethodGet, "/api/users/1/notifications", nil))
	assert.True(t, page.Data[0].Read)
	assert.True(t, page.Data[0].Actioned)

	// another user cannot touch the record
	w = ts.do(t, http.MethodPost, "/api/notifications/"+id+"/read?user_id=31", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/notifications/"+id+"/read", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/notifications/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserNotificationsPaginate(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"T-1", "T-2", "T-3"} {
		ts.task(t, id, true)
		w := ts.do(t, http.MethodPost, "/api/events/task.approved?sync=true", map[string]any{"projectId": "C-009", "taskId": id})
		require.Equal(t, http.StatusOK, w.Code)
	}

	first := decode[notificationPage](t, ts.do(t, http.MethodGet, "/api/users/1/notifications?page_size=2", nil))
	require.Len(t, first.Data, 2)
	require.True(t, first.PageInfo.HasMore)

	second := decode[notificationPage](t, ts.do(t, http.MethodGet, "/api/users/1/notifications?page_size=2&page_token="+first.PageInfo.NextPageToken, nil))
	require.Len(t, second.Data, 1)
	assert.False(t, second.PageInfo.HasMore)

	seen := map[string]bool{}
	for _, n := range append(first.Data, second.Data...) {
		seen[n.ID] = true
	}
	assert.Len(t, seen, 3)

	w := ts.do(t, http.MethodGet, "/api/users/1/notifications?page_token=garbage!", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	project := decode[notificationPage](t, ts.do(t, http.MethodGet, "/api/projects/C-009/notifications?types=task_approved", nil))
	assert.Len(t, project.Data, 3)
}

func TestPublishEventRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/events/task.rejected", map[string]any{"projectId": "C-009"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	out := decode[errorEnvelope](t, w)
	assert.Equal(t, "validation_error", out.Error.Type)
	require.Len(t, out.Error.Errors, 1)
	assert.Equal(t, "invalid_event_name", out.Error.Errors[0].Code)

	w = ts.do(t, http.MethodPost, "/api/events/task.approved", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/events/task.approved", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishEventQueuesAsync(t *testing.T) {
	ts := newTestServer(t)
	ts.task(t, "T-1", true)
	ts.bus.Start()

	w := ts.do(t, http.MethodPost, "/api/events/TASK_APPROVED", map[string]any{"projectId": "C-009", "taskId": "T-1"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	assert.Eventually(t, func() bool {
		page := decode[notificationPage](t, ts.do(t, http.MethodGet, "/api/users/1/notifications", nil))
		return len(page.Data) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAfterBusStopIsUnavailable(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.bus.Stop(context.Background()))

	w := ts.do(t, http.MethodPost, "/api/events/project.completed", map[string]any{"projectId": "C-009"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPublishRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewPublishLimiter(config.Config{
		RateLimit: config.RateLimitConfig{PublishRate: 0.01, PublishBurst: 1},
	}, client)
	require.NotNil(t, limiter)

	ts := newTestServer(t, withLimiter(limiter))
	body := map[string]any{"projectId": "C-009"}

	w := ts.do(t, http.MethodPost, "/api/events/project.completed", body, HeaderClientID, "ops-1")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/events/project.completed", body, HeaderClientID, "ops-1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[errorEnvelope](t, w).Error.Type)

	// buckets are per client
	w = ts.do(t, http.MethodPost, "/api/events/project.completed", body, HeaderClientID, "ops-2")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestInvoiceTransitions(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.invoices.Create(ctx, invoicedomain.CreateInvoiceRequest{
		InvoiceNumber: "INV-1", InvoiceType: invoicedomain.TypeManual, ProjectID: "C-009",
		CommissionerID: 31, FreelancerID: 1, Currency: "USD",
		Milestones: []invoicedomain.Milestone{{TaskID: "T-1", Rate: 700}},
	})
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/api/invoices/INV-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inv := decode[dataEnvelope[invoicedomain.Invoice]](t, w).Data
	assert.Equal(t, invoicedomain.StatusDraft, inv.Status)

	w = ts.do(t, http.MethodGet, "/api/invoices/INV-404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/invoices/INV-1/transition", map[string]any{"status": "on_hold"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/invoices/INV-1/transition", map[string]any{"status": "overdue"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/invoices/INV-1/transition", map[string]any{"status": "refunded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/invoices/INV-1/transition", map[string]any{"status": "sent"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/invoices/INV-1/transition", map[string]any{"status": "paid", "reference": "bank-77"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	inv = decode[dataEnvelope[invoicedomain.Invoice]](t, w).Data
	assert.Equal(t, invoicedomain.StatusPaid, inv.Status)
	assert.Equal(t, "bank-77", inv.PaymentReference)

	w = ts.do(t, http.MethodPost, "/api/invoices/INV-1/transition", map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, w.Code)

	list := decode[dataEnvelope[[]invoicedomain.Invoice]](t, ts.do(t, http.MethodGet, "/api/invoices?status=paid&project_id=C-009", nil))
	assert.Len(t, list.Data, 1)
}

func TestRetryPaymentAfterFunding(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	w := ts.do(t, http.MethodPost, "/api/invoices", map[string]any{
		"invoiceNumber": "MH-1", "invoiceType": "auto_milestone", "projectId": "C-009",
		"commissionerId": 31, "freelancerId": 1, "currency": "USD", "send": true,
		"milestones": []map[string]any{{"taskId": "T-1", "rate": 500}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/invoices/MH-1/charge", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	att := decode[dataEnvelope[autopay.Attempt]](t, w).Data
	require.Equal(t, autopay.OutcomeFailed, att.Outcome)

	w = ts.do(t, http.MethodPost, "/api/invoices/MH-1/charge", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := ts.wallets.Fund(ctx, 31, 500)
	require.NoError(t, err)

	w = ts.do(t, http.MethodPost, "/api/invoices/MH-1/retry-payment", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	attempt := decode[dataEnvelope[autopay.Attempt]](t, w).Data
	assert.Equal(t, autopay.OutcomePaid, attempt.Outcome)

	w = ts.do(t, http.MethodPost, "/api/invoices/MH-1/retry-payment", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/invoices/MH-404/retry-payment", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutopaySweep(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/autopay/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[dataEnvelope[autopay.Summary]](t, w).Data
	assert.Equal(t, 0, summary.Scanned)
}

func TestReconciliationRunAndLookup(t *testing.T) {
	ts := newTestServer(t)
	ts.task(t, "T-1", true)
	ts.task(t, "T-2", false)

	w := ts.do(t, http.MethodPost, "/api/reconciliation/run", map[string]any{"dryRun": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dry := decode[dataEnvelope[reconciliation.Report]](t, w).Data
	assert.Equal(t, 1, dry.GapsFound)
	assert.Equal(t, 0, dry.Backfilled)

	w = ts.do(t, http.MethodPost, "/api/reconciliation/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[dataEnvelope[reconciliation.Report]](t, w).Data
	assert.Equal(t, 1, report.Backfilled)

	w = ts.do(t, http.MethodGet, "/api/reconciliation/runs/"+report.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.RunID, decode[dataEnvelope[reconciliation.Report]](t, w).Data.RunID)

	w = ts.do(t, http.MethodGet, "/api/reconciliation/runs/"+dry.RunID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/reconciliation/run", map[string]any{"batchSize": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/notification-stage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stage := decode[dataEnvelope[map[string]string]](t, w).Data
	assert.Equal(t, string(gateway.StageCutover), stage["stage"])

	w = ts.do(t, http.MethodPost, "/api/scheduler/jobs/autopay_retry/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
		{&invoicedomain.TransitionError{From: invoicedomain.StatusPaid, To: invoicedomain.StatusSent}, http.StatusConflict, "conflict"},
		{reconciliation.ErrAlreadyRunning, http.StatusConflict, "conflict"},
		{eventbus.ErrQueueFull, http.StatusServiceUnavailable, "service_unavailable"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{invoicedomain.ErrInvalidStatus, http.StatusBadRequest, "validation_error"},
		{assert.AnError, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.typ, payload.Type, tc.err.Error())
	}

	kind, code := classifyErrorForLog(invoicedomain.ErrInvoiceNotFound)
	assert.Equal(t, "client", kind)
	assert.Equal(t, "not_found", code)
}
