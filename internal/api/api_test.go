package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/abelzeko/water-balance/internal/entities"
	"github.com/abelzeko/water-balance/internal/integration/supabase"
	"github.com/abelzeko/water-balance/internal/treemap"
	"github.com/abelzeko/water-balance/internal/usecases"
)

type fakeService struct {
	response *entities.WaterBalanceResponse
	result   *usecases.TreemapResult
	err      error
	cached   bool
	groups   []string
	reply    string

	queries   []entities.WaterBalanceQuery
	refreshes []bool
	texts     []string
}

func (f *fakeService) GetWaterBalance(ctx context.Context, q entities.WaterBalanceQuery, refresh bool) (*entities.WaterBalanceResponse, bool, error) {
	f.queries = append(f.queries, q)
	f.refreshes = append(f.refreshes, refresh)
	return f.response, f.cached, f.err
}

func (f *fakeService) BuildTreemap(ctx context.Context, q entities.WaterBalanceQuery, refresh bool) (*usecases.TreemapResult, error) {
	f.queries = append(f.queries, q)
	f.refreshes = append(f.refreshes, refresh)
	return f.result, f.err
}

func (f *fakeService) FormatTreemap(tree *entities.WaterBalanceTreeData) string {
	var b strings.Builder
	treemap.Debug(&b, tree)
	return b.String()
}

func (f *fakeService) KnownGroups() []string { return f.groups }

func (f *fakeService) HandleNaturalLanguageQuery(ctx context.Context, text string) (string, error) {
	f.texts = append(f.texts, text)
	return f.reply, f.err
}

func sampleResult(t *testing.T) *usecases.TreemapResult {
	t.Helper()
	tree, err := treemap.NewConverter().Convert([]entities.WaterBalanceItem{{
		ID: "plant", Name: "Plant", WaterVolume: 100, Path: "/plant",
		Children: []entities.WaterBalanceItem{
			{ID: "a", Name: "Cooling", WaterVolume: 60, Path: "/plant/a"},
			{ID: "b", Name: "Boiler", WaterVolume: 30, Path: "/plant/b"},
		},
	}})
	require.NoError(t, err)
	return &usecases.TreemapResult{Tree: tree, Summary: treemap.Summarize(tree)}
}

func doRequest(t *testing.T, srv *HTTPServer, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := NewHTTPServer(&fakeService{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := NewHTTPServer(&fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestGroups(t *testing.T) {
	srv := NewHTTPServer(&fakeService{groups: []string{"a", "b"}}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/groups", "")
	assert.JSONEq(t, `{"groups":["a","b"]}`, rec.Body.String())

	srv = NewHTTPServer(&fakeService{}, nil)
	rec = doRequest(t, srv, http.MethodGet, "/api/groups", "")
	assert.JSONEq(t, `{"groups":[]}`, rec.Body.String())
}

func TestWaterBalanceEndpoint(t *testing.T) {
	svc := &fakeService{
		response: &entities.WaterBalanceResponse{
			Success: true,
			Data:    []entities.WaterBalanceItem{{ID: "1", Name: "Intake", WaterVolume: 5}},
		},
		cached: true,
	}
	srv := NewHTTPServer(svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/water-balance?refresh=true",
		`{"groupName":"plant-a","statDate":"2024-05-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))

	var got entities.WaterBalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "Intake", got.Data[0].Name)

	require.Len(t, svc.queries, 1)
	assert.Equal(t, entities.WaterBalanceQuery{GroupName: "plant-a", StatDate: "2024-05-01"}, svc.queries[0])
	assert.True(t, svc.refreshes[0])
}

func TestWaterBalanceEndpointBadRequests(t *testing.T) {
	svc := &fakeService{}
	srv := NewHTTPServer(svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/water-balance", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/water-balance", `{"groupName":"g"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "statDate is required")

	assert.Empty(t, svc.queries)
}

func TestWaterBalanceEndpointBackendError(t *testing.T) {
	srv := NewHTTPServer(&fakeService{err: errors.New("invoke waterBalance function failed: boom")}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/water-balance", `{"groupName":"g","statDate":"d"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"invoke waterBalance function failed: boom"}`, rec.Body.String())
}

func TestTreemapEndpoint(t *testing.T) {
	svc := &fakeService{result: sampleResult(t)}
	srv := NewHTTPServer(svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/water-balance/treemap", `{"groupName":"g","statDate":"d"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.False(t, svc.refreshes[0])

	var got struct {
		Tree       entities.WaterBalanceTreeData `json:"tree"`
		Nodes      int                           `json:"nodes"`
		Depth      int                           `json:"depth"`
		Total      string                        `json:"totalVolume"`
		Imbalances []map[string]string           `json:"imbalances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Plant", got.Tree.Name)
	assert.Equal(t, 3, got.Nodes)
	assert.Equal(t, 2, got.Depth)
	assert.Equal(t, "100", got.Total)
	require.Len(t, got.Imbalances, 1)
	assert.Equal(t, "90", got.Imbalances[0]["childrenSum"])
}

func TestTreemapEndpointErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: group", usecases.ErrQueryUnsuccessful), http.StatusBadGateway},
		{fmt.Errorf("convert: %w", treemap.ErrTreeTooDeep), http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, c := range cases {
		srv := NewHTTPServer(&fakeService{err: c.err}, nil)
		rec := doRequest(t, srv, http.MethodPost, "/api/water-balance/treemap", `{"groupName":"g","statDate":"d"}`)
		assert.Equal(t, c.status, rec.Code, c.err.Error())
	}
}

func TestWaterBalanceEndpointBackendTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	client := supabase.NewClient(slow.URL, "anon", supabase.WithHTTPClient(slow.Client()))
	srv := NewHTTPServer(usecases.NewWaterBalanceUseCase(client, nil, nil, usecases.Options{}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/water-balance", strings.NewReader(`{"groupName":"g","statDate":"d"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHTTPServerRunStopsOnCancel(t *testing.T) {
	srv := NewHTTPServer(&fakeService{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func commandMessage(text string) *tgbotapi.Message {
	cmd := strings.SplitN(text, " ", 2)[0]
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 1},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func newTestBot(svc WaterBalanceService) *TelegramBot {
	bot := newTelegramBot(nil, svc, "", nil)
	bot.now = func() time.Time { return time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC) }
	return bot
}

func TestTelegramStartAndHelp(t *testing.T) {
	bot := newTestBot(&fakeService{groups: []string{"plant-a"}})

	start := bot.respond(context.Background(), commandMessage("/start"))
	assert.Contains(t, start, "Welcome")
	assert.Contains(t, start, "• plant-a")

	help := bot.respond(context.Background(), commandMessage("/help"))
	assert.Contains(t, help, "/balance")
	assert.Contains(t, help, "/tree")

	assert.Contains(t, bot.respond(context.Background(), commandMessage("/nope")), "Unknown command")
}

func TestTelegramBalance(t *testing.T) {
	svc := &fakeService{result: sampleResult(t)}
	bot := newTestBot(svc)

	reply := bot.respond(context.Background(), commandMessage("/balance plant a 2024-05-01"))
	require.Len(t, svc.queries, 1)
	assert.Equal(t, entities.WaterBalanceQuery{GroupName: "plant a", StatDate: "2024-05-01"}, svc.queries[0])
	assert.Contains(t, reply, "Water balance for plant a on 2024-05-01")
	assert.Contains(t, reply, "• Plant: 100")
	assert.Contains(t, reply, "Total: 100")
	assert.Contains(t, reply, "Imbalances")
	assert.Contains(t, reply, "diff 10")
}

func TestTelegramBalanceDefaultsToToday(t *testing.T) {
	svc := &fakeService{result: sampleResult(t)}
	bot := newTestBot(svc)

	bot.respond(context.Background(), commandMessage("/balance plant-a"))
	require.Len(t, svc.queries, 1)
	assert.Equal(t, "2024-05-03", svc.queries[0].StatDate)

	reply := bot.respond(context.Background(), commandMessage("/balance"))
	assert.Contains(t, reply, "Please specify a group")
	assert.Len(t, svc.queries, 1)
}

func TestTelegramBalanceErrors(t *testing.T) {
	bot := newTestBot(&fakeService{err: fmt.Errorf("%w: x", usecases.ErrQueryUnsuccessful)})
	assert.Contains(t, bot.respond(context.Background(), commandMessage("/balance g 2024-05-01")), "No water-balance data for 'g'")

	bot = newTestBot(&fakeService{err: errors.New("down")})
	assert.Contains(t, bot.respond(context.Background(), commandMessage("/tree g 2024-05-01")), "Please try again later")
}

func TestTelegramTree(t *testing.T) {
	bot := newTestBot(&fakeService{result: sampleResult(t)})

	reply := bot.respond(context.Background(), commandMessage("/tree g 2024-05-01"))
	assert.Contains(t, reply, "=== treemap data ===")
	assert.Contains(t, reply, "- Boiler (value: 30, path: /plant/b)")
}

func TestTelegramFreeText(t *testing.T) {
	svc := &fakeService{reply: "Which group?"}
	bot := newTestBot(svc)

	msg := &tgbotapi.Message{Text: "show me the balance", Chat: &tgbotapi.Chat{ID: 1}}
	assert.Equal(t, "Which group?", bot.respond(context.Background(), msg))
	assert.Equal(t, []string{"show me the balance"}, svc.texts)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "水平…", truncate("水平衡水平衡", 3))
}

func TestImbalanceDecimal(t *testing.T) {
	// Sanity check on the fixture used above.
	s := sampleResult(t).Summary
	require.Len(t, s.Imbalances, 1)
	assert.True(t, s.Imbalances[0].Difference().Equal(decimal.NewFromInt(10)))
}
