// Package sqlgen answers single natural-language questions: it parses the
// question, consults the GL advisor and the pre-calculated metrics, and
// otherwise asks the LLM for SQL and runs it against the warehouse.
package sqlgen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/cache"
	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/gladvisor"
	"github.com/ekaya-inc/ekaya-finsight/pkg/knowledge"
	"github.com/ekaya-inc/ekaya-finsight/pkg/llm"
	"github.com/ekaya-inc/ekaya-finsight/pkg/logging"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/precalc"
	"github.com/ekaya-inc/ekaya-finsight/pkg/prompts"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
	"github.com/ekaya-inc/ekaya-finsight/pkg/retry"
	"github.com/ekaya-inc/ekaya-finsight/pkg/semantic"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlsafe"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

// KeyPrefix namespaces generated SQL in the shared cache.
const KeyPrefix = "sqlgen:"

// ErrNeedsClarification is returned by Generate when the question cannot be
// answered without more input.
var ErrNeedsClarification = errors.New("question needs clarification")

// Config tunes generation.
type Config struct {
	ClientID     string
	DatasetID    string
	Table        string        `default:"gl_transactions"`
	Temperature  float64       `default:"0.1"`
	CacheTTL     time.Duration `default:"24h"`
	Examples     int           `default:"3"`
	SchemaTables int           `default:"5"`
}

// NewConfig returns a Config with every default applied.
func NewConfig() (Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return Config{}, fmt.Errorf("failed to apply sqlgen defaults: %w", err)
	}
	return c, nil
}

// ConfigFrom builds a Config from the process configuration.
func ConfigFrom(cfg *config.Config) (Config, error) {
	c, err := NewConfig()
	if err != nil {
		return Config{}, err
	}
	c.ClientID = cfg.Tenant.ClientID
	c.DatasetID = cfg.Tenant.DatasetID
	if cfg.Warehouse.Table != "" {
		c.Table = cfg.Warehouse.Table
	}
	c.Temperature = cfg.LLM.Temperature
	return c, nil
}

// Deps are the collaborators of a Generator. Advisor, PreCalc, Knowledge,
// Cache and QueryLog are optional.
type Deps struct {
	Parser    *semantic.Parser
	Advisor   *gladvisor.Advisor
	PreCalc   *precalc.Integrator
	Knowledge knowledge.Service
	LLM       llm.LLMClient
	Executor  warehouse.Executor
	Cache     cache.Store
	QueryLog  repositories.QueryLogRepository
}

// Options adjust a single request.
type Options struct {
	// ClientID overrides the configured tenant.
	ClientID string
	// ForceRefresh bypasses the SQL cache read; the result is still written.
	ForceRefresh bool
	SkipPreCalc  bool
	// PriorAnalysis is appended to the prompt; research steps use it to pass
	// what their dependencies found.
	PriorAnalysis string
}

// ColumnInfo is one result column with its display type.
type ColumnInfo struct {
	Name           string             `json:"name"`
	DisplayType    models.DisplayType `json:"display_type"`
	FormatTemplate string             `json:"format_template"`
}

// QueryResponse is the answer to one question. On failure Error is set and
// Suggestions or ClarifyingQuestions say how to proceed.
type QueryResponse struct {
	Question            string                 `json:"question"`
	SQL                 string                 `json:"sql"`
	Rows                []map[string]any       `json:"rows"`
	Formatted           []map[string]string    `json:"formatted"`
	Columns             []ColumnInfo           `json:"columns"`
	RowCount            int                    `json:"row_count"`
	BytesProcessed      int64                  `json:"bytes_processed"`
	ExecutionTime       time.Duration          `json:"execution_time"`
	FromPreCalc         bool                   `json:"from_precalc"`
	FromCache           bool                   `json:"from_cache"`
	PreCalcMatch        *models.PreCalcMatch   `json:"precalc_match,omitempty"`
	Error               string                 `json:"error,omitempty"`
	Suggestions         []string               `json:"suggestions"`
	ClarifyingQuestions []string               `json:"clarifying_questions"`
	QueryContext        *models.QueryContext   `json:"query_context,omitempty"`
	GLContext           *models.GLQueryContext `json:"gl_context,omitempty"`
}

// Generated is SQL produced for a question, without execution.
type Generated struct {
	SQL          string
	FromCache    bool
	QueryContext *models.QueryContext
	GLContext    *models.GLQueryContext
}

type cachedSQL struct {
	SQL         string    `json:"sql"`
	Question    string    `json:"question"`
	ClientID    string    `json:"client_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Generator implements the single-shot question flow.
type Generator struct {
	cfg    Config
	deps   Deps
	retry  *retry.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewGenerator(cfg Config, deps Deps, logger *zap.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		deps:   deps,
		retry:  retry.DefaultConfig(),
		logger: logger.Named("sqlgen"),
		now:    time.Now,
	}
}

// CacheKey is the SQL cache key for a question asked by a tenant.
func (g *Generator) CacheKey(clientID, question string) string {
	if clientID == "" {
		clientID = g.cfg.ClientID
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(clientID + "|" + g.cfg.DatasetID + "|" + normalized))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// IsCached reports whether SQL for the question is already cached.
func (g *Generator) IsCached(ctx context.Context, clientID, question string) (bool, error) {
	if g.deps.Cache == nil {
		return false, nil
	}
	ok, err := g.deps.Cache.Exists(ctx, g.CacheKey(clientID, question))
	if err != nil {
		return false, fmt.Errorf("failed to check sql cache: %w", err)
	}
	return ok, nil
}

func (g *Generator) clientID(opts Options) string {
	if opts.ClientID != "" {
		return opts.ClientID
	}
	return g.cfg.ClientID
}

type analysis struct {
	qc       *models.QueryContext
	glc      *models.GLQueryContext
	glFilter string
}

// analyze runs the parser and, for financial questions, the GL advisor. A
// non-nil response means the question cannot proceed.
func (g *Generator) analyze(ctx context.Context, question, clientID string) (*analysis, *QueryResponse) {
	a := &analysis{qc: g.deps.Parser.Parse(question)}
	if !a.qc.IsFinancial() || g.deps.Advisor == nil {
		return a, nil
	}

	a.glc = g.deps.Advisor.Analyze(ctx, question, clientID)
	if a.glc.ClarificationNeeded {
		resp := newResponse(question)
		resp.QueryContext, resp.GLContext = a.qc, a.glc
		resp.Error = ErrNeedsClarification.Error()
		resp.ClarifyingQuestions = append(resp.ClarifyingQuestions, a.glc.ClarificationQuestions...)
		return a, resp
	}

	v := g.deps.Advisor.ValidateFinancialQuery(a.glc)
	if len(v.InvalidAccounts) > 0 {
		resp := newResponse(question)
		resp.QueryContext, resp.GLContext = a.qc, a.glc
		resp.Error = fmt.Sprintf("GL accounts not found for client %s: %s", clientID, strings.Join(v.InvalidAccounts, ", "))
		for _, acct := range v.InvalidAccounts {
			if similar := v.Suggestions[acct]; len(similar) > 0 {
				resp.Suggestions = append(resp.Suggestions,
					fmt.Sprintf("Account %s does not exist; similar accounts: %s", acct, strings.Join(similar, ", ")))
			}
		}
		return a, resp
	}
	if len(v.MissingBuckets) > 0 {
		g.logger.Debug("Required buckets missing from tenant mapping",
			zap.String("client_id", clientID),
			zap.Strings("buckets", v.MissingBuckets))
	}
	a.glFilter = g.deps.Advisor.BuildGLFilter(a.glc)
	return a, nil
}

// Generate returns SQL for question, from the cache when allowed.
func (g *Generator) Generate(ctx context.Context, question string, opts Options) (*Generated, error) {
	clientID := g.clientID(opts)
	a, blocked := g.analyze(ctx, question, clientID)
	if blocked != nil {
		return nil, fmt.Errorf("%w: %s", ErrNeedsClarification, blocked.Error)
	}
	return g.generate(ctx, question, clientID, a, opts)
}

func (g *Generator) generate(ctx context.Context, question, clientID string, a *analysis, opts Options) (*Generated, error) {
	out := &Generated{QueryContext: a.qc, GLContext: a.glc}
	key := g.CacheKey(clientID, question)

	if g.deps.Cache != nil && !opts.ForceRefresh && opts.PriorAnalysis == "" {
		var hit cachedSQL
		err := cache.GetJSON(ctx, g.deps.Cache, key, &hit)
		switch {
		case err == nil && hit.SQL != "":
			out.SQL, out.FromCache = hit.SQL, true
			return out, nil
		case err != nil && !cache.IsMiss(err):
			g.logger.Warn("SQL cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	prompt := prompts.BuildSQLGenerationPrompt(g.promptInput(ctx, question, a, opts))
	result, err := retry.DoIfRetryableWithResult(ctx, g.retry, func() (*llm.GenerateResponseResult, error) {
		return g.deps.LLM.GenerateResponse(ctx, prompt, prompts.BuildSQLGenerationSystemMessage(), g.cfg.Temperature)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate sql: %w", err)
	}

	sql, err := llm.ExtractSQL(result.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract sql from model response: %w", err)
	}
	sql, err = sqlsafe.ValidateReadOnly(sql)
	if err != nil {
		return nil, fmt.Errorf("generated sql rejected: %w", err)
	}
	out.SQL = sql

	if g.deps.Cache != nil && opts.PriorAnalysis == "" {
		entry := cachedSQL{SQL: sql, Question: question, ClientID: clientID, GeneratedAt: g.now().UTC()}
		if err := cache.SetJSON(ctx, g.deps.Cache, key, entry, g.cfg.CacheTTL); err != nil {
			g.logger.Warn("SQL cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	g.logger.Debug("Generated SQL",
		zap.String("question", logging.TruncateString(question, 120)),
		zap.String("sql", logging.SanitizeQuery(sql)),
		zap.Int("total_tokens", result.TotalTokens))
	return out, nil
}

func (g *Generator) promptInput(ctx context.Context, question string, a *analysis, opts Options) prompts.SQLPromptInput {
	in := prompts.SQLPromptInput{
		Question:      question,
		Dialect:       g.dialect(),
		Table:         warehouse.Qualified(g.deps.Executor, g.cfg.Table),
		QueryContext:  a.qc,
		GLContext:     a.glc,
		GLFilter:      a.glFilter,
		PriorAnalysis: opts.PriorAnalysis,
	}
	if k := g.deps.Knowledge; k != nil {
		in.Examples = k.GetSimilarSQLExamples(ctx, question, g.cfg.Examples, in.Dialect)
		in.Schema = k.SearchTables(ctx, question, g.cfg.SchemaTables)
	}
	return in
}

func (g *Generator) dialect() string {
	if d := g.deps.Executor.Dialect(); d != "" {
		return d
	}
	return models.DialectBigQuery
}

func newResponse(question string) *QueryResponse {
	return &QueryResponse{
		Question:            question,
		Rows:                []map[string]any{},
		Columns:             []ColumnInfo{},
		Suggestions:         []string{},
		ClarifyingQuestions: []string{},
	}
}

func sortedColumns(rows []map[string]any) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
