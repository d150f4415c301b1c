// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/abelzeko/water-balance/internal/entities"
	"github.com/abelzeko/water-balance/internal/integration/openai"
	"github.com/abelzeko/water-balance/internal/integration/supabase"
	"github.com/abelzeko/water-balance/internal/repository"
	"github.com/abelzeko/water-balance/internal/treemap"
)

// DefaultFunctionName is the remote procedure serving water-balance reports.
const DefaultFunctionName = "waterBalance"

var (
	// ErrQueryUnsuccessful is returned when the backend answers with success=false.
	ErrQueryUnsuccessful = errors.New("water balance query reported failure")

	// ErrInvalidQuery is returned by ValidateQuery.
	ErrInvalidQuery = errors.New("invalid water balance query")
)

// Backend is the part of the hosted backend client the use case depends on.
type Backend interface {
	SignInWithPassword(ctx context.Context, phone, password string) (*supabase.Session, error)
	SignOut(ctx context.Context) error
	GetUser(ctx context.Context) (*supabase.User, error)
	Invoke(ctx context.Context, name string, body, out any) error
	// SessionOwner names whose data Invoke returns: "anon", a user ID, or ""
	// when unknown.
	SessionOwner() string
}

// Options tunes a WaterBalanceUseCase. Zero values select defaults.
type Options struct {
	FunctionName string
	CacheTTL     time.Duration
	RootName     string
	MaxDepth     int
	KnownGroups  []string
	Logger       *log.Logger
}

// WaterBalanceUseCase handles business logic related to water-balance reports
type WaterBalanceUseCase struct {
	backend      Backend
	repo         repository.SnapshotRepository
	interpreter  openai.QueryInterpreter
	logger       *log.Logger
	functionName string
	cacheTTL     time.Duration
	rootName     string
	maxDepth     int
	knownGroups  []string
	now          func() time.Time
}

// NewWaterBalanceUseCase creates a new water-balance use case. repo and
// interpreter are optional; pass nil to disable caching or free-text queries.
func NewWaterBalanceUseCase(backend Backend, repo repository.SnapshotRepository, interpreter openai.QueryInterpreter, opts Options) *WaterBalanceUseCase {
	uc := &WaterBalanceUseCase{
		backend:      backend,
		repo:         repo,
		interpreter:  interpreter,
		logger:       opts.Logger,
		functionName: opts.FunctionName,
		cacheTTL:     opts.CacheTTL,
		rootName:     opts.RootName,
		maxDepth:     opts.MaxDepth,
		knownGroups:  opts.KnownGroups,
		now:          time.Now,
	}
	if uc.logger == nil {
		uc.logger = log.Default()
	}
	if uc.functionName == "" {
		uc.functionName = DefaultFunctionName
	}
	if uc.cacheTTL <= 0 {
		uc.cacheTTL = time.Hour
	}
	if uc.rootName == "" {
		uc.rootName = treemap.DefaultRootName
	}
	return uc
}

// ValidateQuery checks that both query fields are present.
func ValidateQuery(q entities.WaterBalanceQuery) error {
	if strings.TrimSpace(q.GroupName) == "" {
		return fmt.Errorf("%w: groupName is required", ErrInvalidQuery)
	}
	if strings.TrimSpace(q.StatDate) == "" {
		return fmt.Errorf("%w: statDate is required", ErrInvalidQuery)
	}
	return nil
}

// QueryWaterBalance invokes the remote procedure and returns its result as is.
// The success flag is not inspected here.
func (uc *WaterBalanceUseCase) QueryWaterBalance(ctx context.Context, q entities.WaterBalanceQuery) (*entities.WaterBalanceResponse, error) {
	uc.logger.Debug("Querying water balance", "group", q.GroupName, "date", q.StatDate)

	var resp entities.WaterBalanceResponse
	if err := uc.backend.Invoke(ctx, uc.functionName, q, &resp); err != nil {
		uc.logger.Error("Water balance query failed", "group", q.GroupName, "date", q.StatDate, "err", err)
		return nil, fmt.Errorf("invoke %s function failed: %w", uc.functionName, err)
	}
	return &resp, nil
}

// GetWaterBalance returns the report for q, serving it from the snapshot cache
// while it is fresh unless refresh is set. The second result reports a cache hit.
// Only successful responses are cached, and only under the session owner that
// fetched them. A session with an unknown owner bypasses the cache.
func (uc *WaterBalanceUseCase) GetWaterBalance(ctx context.Context, q entities.WaterBalanceQuery, refresh bool) (*entities.WaterBalanceResponse, bool, error) {
	owner := uc.backend.SessionOwner()
	useCache := uc.repo != nil && owner != ""
	if uc.repo != nil && owner == "" {
		uc.logger.Debug("Session owner unknown, bypassing snapshot cache")
	}

	if useCache && !refresh {
		snap, err := uc.repo.GetSnapshot(owner, q.GroupName, q.StatDate)
		if err != nil {
			uc.logger.Warn("Snapshot lookup failed, fetching from backend", "err", err)
		} else if snap != nil && uc.now().Sub(snap.FetchedAt) < uc.cacheTTL {
			uc.logger.Debug("Using cached snapshot", "group", q.GroupName, "date", q.StatDate,
				"fetched_at", snap.FetchedAt.Format(time.RFC3339))
			return &snap.Response, true, nil
		}
	}

	resp, err := uc.QueryWaterBalance(ctx, q)
	if err != nil {
		return nil, false, err
	}

	if useCache && resp.Success {
		snap := entities.Snapshot{
			Owner:     owner,
			GroupName: q.GroupName,
			StatDate:  q.StatDate,
			Response:  *resp,
			FetchedAt: uc.now(),
		}
		if err := uc.repo.SaveSnapshot(snap); err != nil {
			uc.logger.Warn("Failed to cache snapshot", "err", err)
		}
	}
	return resp, false, nil
}

// TreemapResult is a converted report ready for the chart widget.
type TreemapResult struct {
	Tree    *entities.WaterBalanceTreeData
	Summary treemap.Summary
	Cached  bool
}

// BuildTreemap fetches the report for q and converts it. A response with
// success=false is rejected with ErrQueryUnsuccessful.
func (uc *WaterBalanceUseCase) BuildTreemap(ctx context.Context, q entities.WaterBalanceQuery, refresh bool) (*TreemapResult, error) {
	resp, cached, err := uc.GetWaterBalance(ctx, q, refresh)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: group %q, date %q", ErrQueryUnsuccessful, q.GroupName, q.StatDate)
	}

	tree, err := uc.ConvertToTreemap(resp.Data)
	if err != nil {
		return nil, err
	}
	return &TreemapResult{
		Tree:    tree,
		Summary: treemap.Summarize(tree),
		Cached:  cached,
	}, nil
}

// ConvertToTreemap converts items with a fresh converter, so colors always
// start from the beginning of the palette.
func (uc *WaterBalanceUseCase) ConvertToTreemap(items []entities.WaterBalanceItem) (*entities.WaterBalanceTreeData, error) {
	converter := treemap.NewConverter(
		treemap.WithRootName(uc.rootName),
		treemap.WithMaxDepth(uc.maxDepth),
		treemap.WithLogger(uc.logger),
	)
	tree, err := converter.Convert(items)
	if err != nil {
		return nil, fmt.Errorf("failed to convert water balance data: %w", err)
	}
	return tree, nil
}

// FormatTreemap renders the debug listing of tree for display
func (uc *WaterBalanceUseCase) FormatTreemap(tree *entities.WaterBalanceTreeData) string {
	var b strings.Builder
	treemap.Debug(&b, tree)
	return b.String()
}

// RefreshSnapshots refetches the report of every group for statDate. A failing
// group is logged and skipped; the combined error is returned at the end.
func (uc *WaterBalanceUseCase) RefreshSnapshots(ctx context.Context, groups []string, statDate string) error {
	log := uc.logger.With("date", statDate)
	log.Infof("Starting snapshot refresh for %d groups", len(groups))

	var errs []error
	for _, group := range groups {
		q := entities.WaterBalanceQuery{GroupName: group, StatDate: statDate}
		resp, _, err := uc.GetWaterBalance(ctx, q, true)
		if err != nil {
			log.Warn("Failed to refresh group", "group", group, "err", err)
			errs = append(errs, fmt.Errorf("group %s: %w", group, err))
			continue
		}
		if !resp.Success {
			log.Warn("Backend reported failure for group", "group", group)
			errs = append(errs, fmt.Errorf("group %s: %w", group, ErrQueryUnsuccessful))
			continue
		}
		log.Info("Refreshed group", "group", group, "items", len(resp.Data))
	}
	return errors.Join(errs...)
}

// PruneSnapshots removes snapshots older than retention. It is a no-op without a cache.
func (uc *WaterBalanceUseCase) PruneSnapshots(retention time.Duration) (int64, error) {
	if uc.repo == nil {
		return 0, nil
	}
	return uc.repo.DeleteSnapshotsBefore(uc.now().Add(-retention))
}

// KnownGroups returns the configured groups plus every group the current
// session owner has cached
func (uc *WaterBalanceUseCase) KnownGroups() []string {
	seen := make(map[string]bool)
	var groups []string
	add := func(g string) {
		if g != "" && !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	for _, g := range uc.knownGroups {
		add(g)
	}
	if uc.repo != nil {
		snaps, err := uc.repo.ListSnapshots("")
		if err != nil {
			uc.logger.Warn("Failed to list cached groups", "err", err)
		}
		owner := uc.backend.SessionOwner()
		for _, s := range snaps {
			if s.Owner == owner {
				add(s.GroupName)
			}
		}
	}
	sort.Strings(groups)
	return groups
}

// Today returns the current date in the layout used for stat dates.
func (uc *WaterBalanceUseCase) Today(layout string) string {
	if layout == "" {
		layout = "2006-01-02"
	}
	return uc.now().Format(layout)
}

// HandleNaturalLanguageQuery interprets a user's free-text message and returns
// the text to show back.
func (uc *WaterBalanceUseCase) HandleNaturalLanguageQuery(ctx context.Context, text string) (string, error) {
	if uc.interpreter == nil {
		return "I don't understand. Use /help to see available commands.", nil
	}
	uc.logger.Debug("Interpreting natural language query", "text", text)

	intent, err := uc.interpreter.InterpretQuery(ctx, text, uc.KnownGroups(), uc.Today(""))
	if err != nil {
		uc.logger.Error("Error interpreting user query", "err", err)
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	switch intent.Intent {
	case openai.IntentWaterBalance:
		if !intent.Complete() {
			// The model asks for the missing group or date itself.
			return intent.UserMessage, nil
		}
		q := entities.WaterBalanceQuery{GroupName: intent.GroupName, StatDate: intent.StatDate}
		result, err := uc.BuildTreemap(ctx, q, false)
		if err != nil {
			uc.logger.Error("Error building treemap after interpretation", "err", err)
			return joinMessage(intent.UserMessage,
				fmt.Sprintf("However, I couldn't load the water balance for %s on %s.", q.GroupName, q.StatDate)), nil
		}
		return joinMessage(intent.UserMessage, uc.FormatTreemap(result.Tree)), nil
	case openai.IntentGeneralQuery:
		return intent.UserMessage, nil
	default:
		uc.logger.Warn("Interpreter returned unexpected intent", "intent", intent.Intent)
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}
}

func joinMessage(prefix, body string) string {
	if prefix == "" {
		return body
	}
	return prefix + "\n\n" + body
}
