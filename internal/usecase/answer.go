package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"asesor-agent/internal/domain"
	"asesor-agent/internal/identity"
	"asesor-agent/internal/quota"
)

const (
	defaultMaxHistory  = 4
	defaultMaxQuestion = 2000
	knowledgeTopK      = 3
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Generator is the generation collaborator. A returned error means the call
// itself failed; a nil error always carries a classified outcome.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (domain.GenerationOutcome, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

type KnowledgeBase interface {
	Query(ctx context.Context, text string, k int) ([]domain.KnowledgeChunk, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, ev identity.Evidence) (identity.Identity, error)
}

// AnswerService drives the admission check and the generation pipeline. It
// holds no per-request state; every invocation is independent apart from the
// shared quota store.
type AnswerService struct {
	params          ParamGetter
	llm             Generator
	search          Searcher
	kb              KnowledgeBase
	ids             IdentityResolver
	quota           quota.Store
	paramPrefix     string
	maxHistoryTurns int
	maxQuestionLen  int

	cacheMu       sync.RWMutex
	cacheLoaded   bool
	generateModel string
	sanitizeModel string
}

type AnswerInput struct {
	Question string
	History  []domain.ConversationTurn
	Evidence identity.Evidence
}

type AnswerOutput struct {
	Answer       string
	AdvisoryNote string
}

func NewAnswerService(p ParamGetter, llm Generator, search Searcher, kb KnowledgeBase, ids IdentityResolver, qs quota.Store, paramPrefix string, maxHistoryTurns, maxQuestionLen int) (*AnswerService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if search == nil {
		return nil, errors.New("usecase: searcher must not be nil")
	}
	if kb == nil {
		return nil, errors.New("usecase: knowledge base must not be nil")
	}
	if ids == nil {
		return nil, errors.New("usecase: identity resolver must not be nil")
	}
	if qs == nil {
		return nil, errors.New("usecase: quota store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = defaultMaxHistory
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	return &AnswerService{
		params:          p,
		llm:             llm,
		search:          search,
		kb:              kb,
		ids:             ids,
		quota:           qs,
		paramPrefix:     paramPrefix,
		maxHistoryTurns: maxHistoryTurns,
		maxQuestionLen:  maxQuestionLen,
	}, nil
}

// Answer admits the request against the caller's daily quota and runs the
// generation pipeline. Only AuthInvalid and QuotaExceeded are distinguishable
// failures; everything else surfaces as a single internal error whose detail
// is logged, never returned.
func (s *AnswerService) Answer(ctx context.Context, in AnswerInput) (out AnswerOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("answer pipeline panicked", "panic", r)
			out = AnswerOutput{}
			err = newError(ErrorInternal, "pipeline_panic", fmt.Errorf("panic: %v", r))
		}
	}()

	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AnswerOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.maxQuestionLen {
		return AnswerOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return AnswerOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	ident, err := s.ids.Resolve(ctx, in.Evidence)
	switch {
	case errors.Is(err, identity.ErrInvalidToken):
		return AnswerOutput{}, newError(ErrorAuthInvalid, "invalid_bearer_token", err)
	case errors.Is(err, identity.ErrNoEvidence):
		return AnswerOutput{}, newError(ErrorInvalidInput, "no_identity_evidence", err)
	case err != nil:
		// Identity provider outage, not a judgement on the credential.
		return AnswerOutput{}, newError(ErrorInternal, "identity_resolution_error", err)
	}

	limit := ident.Tier.DailyLimit()
	key := quota.DayKey(ident.Key, nowUTC())
	allowed, quotaErr := s.quota.CheckAndIncrement(ctx, key, limit)
	switch {
	case quotaErr != nil:
		// Fail open: an unreachable quota store must not take the service
		// down. Logged distinctly from a normal denial.
		slog.Warn("quota store unreachable, admitting request without enforcement",
			"identity", ident.Key, "tier", ident.Tier, "err", quotaErr)
	case !allowed:
		slog.Info("request denied by daily quota", "identity", ident.Key, "tier", ident.Tier, "limit", limit)
		return AnswerOutput{}, newQuotaError(limit)
	}

	return s.orchestrate(ctx, question, in.History)
}

// orchestrate runs decompose→retrieve→assemble→generate, branching on the
// generation outcome: parse on success, one sanitize-and-retry on a safety
// block, generic failure otherwise.
func (s *AnswerService) orchestrate(ctx context.Context, question string, history []domain.ConversationTurn) (AnswerOutput, error) {
	outcome, err := s.attempt(ctx, question, s.decompose(ctx, question), history)
	if err != nil {
		return AnswerOutput{}, newError(ErrorInternal, "generation_error", err)
	}
	switch outcome.Status {
	case domain.GenerationSuccess:
		return AnswerOutput{Answer: extractFinalAnswer(outcome.Text)}, nil
	case domain.GenerationSafetyBlock:
		return s.sanitizeAndRetry(ctx, question, history)
	case domain.GenerationError:
		return AnswerOutput{}, newError(ErrorInternal, "generation_empty", errors.New(outcome.Text))
	default:
		return AnswerOutput{}, newError(ErrorInternal, "generation_unknown_status", fmt.Errorf("status %q", outcome.Status))
	}
}

// sanitizeAndRetry rewrites a safety-blocked question neutrally and reattempts
// the pipeline exactly once. A failed rewrite, or a second safety block, is
// terminal: the user gets the fixed blocked message, never a third attempt.
func (s *AnswerService) sanitizeAndRetry(ctx context.Context, question string, history []domain.ConversationTurn) (AnswerOutput, error) {
	slog.Warn("generation safety-blocked, attempting neutral rewrite")

	rewrite, err := s.llm.Generate(ctx, s.sanitizeModelName(), sanitizePrompt(question))
	if err != nil || rewrite.Status != domain.GenerationSuccess || strings.TrimSpace(rewrite.Text) == "" {
		if err != nil {
			slog.Warn("sanitize rewrite failed", "err", err)
		}
		return AnswerOutput{Answer: blockedMessage}, nil
	}
	sanitized := strings.TrimSpace(rewrite.Text)
	slog.Info("retrying generation with sanitized question")

	// The retry re-runs retrieve→assemble→generate only; the sanitized
	// question itself serves as the single search query.
	outcome, err := s.attempt(ctx, sanitized, []string{sanitized}, history)
	if err != nil {
		return AnswerOutput{}, newError(ErrorInternal, "generation_error_after_retry", err)
	}
	switch outcome.Status {
	case domain.GenerationSuccess:
		return AnswerOutput{
			Answer:       advisoryNote + "\n\n" + extractFinalAnswer(outcome.Text),
			AdvisoryNote: advisoryNote,
		}, nil
	case domain.GenerationSafetyBlock:
		slog.Warn("sanitized question blocked again, giving up")
		return AnswerOutput{Answer: blockedMessage}, nil
	default:
		return AnswerOutput{}, newError(ErrorInternal, "generation_empty_after_retry", errors.New(outcome.Text))
	}
}

// attempt runs one retrieve→assemble→generate pass for a question variant
// and its search queries.
func (s *AnswerService) attempt(ctx context.Context, question string, queries []string, history []domain.ConversationTurn) (domain.GenerationOutcome, error) {
	webContext := s.retrieveWeb(ctx, queries)
	localContext := s.retrieveLocal(ctx, question)
	combined := webContext + "\n\n" + localContext

	finalContext := injectGlossary(question, combined)
	prompt := buildFinalPrompt(question, finalContext, history, s.maxHistoryTurns)

	return s.llm.Generate(ctx, s.generateModelName(), prompt)
}

// decompose asks the model for up to three search queries. Any failure, or an
// empty result, falls back to the raw question; decomposition is never fatal.
func (s *AnswerService) decompose(ctx context.Context, question string) []string {
	outcome, err := s.llm.Generate(ctx, s.generateModelName(), decomposePrompt(question))
	if err != nil || outcome.Status != domain.GenerationSuccess {
		slog.Warn("query decomposition failed, using raw question", "err", err, "status", outcome.Status)
		return []string{question}
	}
	queries := splitSearchQueries(outcome.Text)
	if len(queries) == 0 {
		return []string{question}
	}
	return queries
}

// retrieveWeb fans the decomposed queries out concurrently and joins all
// results before assembly proceeds. A failed search degrades to a warning
// block inside the context instead of failing the pipeline.
func (s *AnswerService) retrieveWeb(ctx context.Context, queries []string) string {
	parts := make([]string, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			parts[i] = s.searchOne(ctx, q)
		}(i, q)
	}
	wg.Wait()
	return strings.Join(parts, "\n\n")
}

const searchErrorNotice = "ADVERTENCIA: Ocurrió un error técnico al realizar la búsqueda web."

// searchOne runs on its own goroutine, out of reach of the recover at the
// Answer boundary, so it contains its own panics and degrades them the same
// way as a failed search.
func (s *AnswerService) searchOne(ctx context.Context, query string) (part string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("web search panicked", "query", query, "panic", r)
			part = searchErrorNotice
		}
	}()
	results, err := s.search.Search(ctx, query)
	if err != nil {
		slog.Warn("web search degraded", "query", query, "err", err)
		return searchErrorNotice
	}
	return formatWebResults(query, results)
}

func (s *AnswerService) retrieveLocal(ctx context.Context, question string) string {
	chunks, err := s.kb.Query(ctx, question, knowledgeTopK)
	if err != nil {
		slog.Warn("knowledge base retrieval degraded", "err", err)
		return "Error al consultar la base de conocimiento local."
	}
	return formatLocalChunks(chunks)
}

func (s *AnswerService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	generateModel, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/gemini_model")
	if err != nil {
		return fmt.Errorf("usecase: load gemini model: %w", err)
	}
	sanitizeModel, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/sanitize_model")
	if err != nil {
		return fmt.Errorf("usecase: load sanitize model: %w", err)
	}

	s.generateModel = generateModel
	s.sanitizeModel = sanitizeModel
	s.cacheLoaded = true
	return nil
}

func (s *AnswerService) generateModelName() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.generateModel
}

func (s *AnswerService) sanitizeModelName() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.sanitizeModel
}

var nowUTC = func() time.Time {
	return time.Now().UTC()
}
