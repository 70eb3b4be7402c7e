package sqlgen

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/format"
	"github.com/ekaya-inc/ekaya-finsight/pkg/logging"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
)

// Serving paths reported on finsight_queries_total.
const (
	PathClarify = "clarify"
	PathPreCalc = "precalc"
	PathCache   = "cache"
	PathLLM     = "llm"
)

// Answer runs the full question flow. The returned response is never nil;
// err is set when generation or execution failed, with the message also on
// the response.
func (g *Generator) Answer(ctx context.Context, question string, opts Options) (*QueryResponse, error) {
	start := g.now()
	clientID := g.clientID(opts)

	a, blocked := g.analyze(ctx, question, clientID)
	if blocked != nil {
		g.finish(ctx, blocked, clientID, PathClarify, start, nil)
		return blocked, nil
	}

	resp := newResponse(question)
	resp.QueryContext, resp.GLContext = a.qc, a.glc

	if g.deps.PreCalc != nil && !opts.SkipPreCalc {
		served, err := g.deps.PreCalc.TryServe(ctx, question)
		if err != nil {
			g.logger.Warn("Pre-calc lookup failed, generating SQL",
				zap.String("question", logging.TruncateString(question, 120)),
				zap.Error(err))
		}
		if served != nil {
			resp.SQL = served.SQL
			resp.Rows = served.Rows
			resp.RowCount = len(served.Rows)
			resp.FromPreCalc = true
			resp.PreCalcMatch = served.Match
			g.describe(ctx, resp, served.Columns)
			g.finish(ctx, resp, clientID, PathPreCalc, start, nil)
			return resp, nil
		}
	}

	gen, err := g.generate(ctx, question, clientID, a, opts)
	if err != nil {
		resp.Error = err.Error()
		resp.Suggestions = append(resp.Suggestions, suggestionsFor(a, err)...)
		g.finish(ctx, resp, clientID, PathLLM, start, err)
		return resp, err
	}
	resp.SQL = gen.SQL
	resp.FromCache = gen.FromCache
	path := PathLLM
	if gen.FromCache {
		path = PathCache
	}

	result, err := g.deps.Executor.ExecuteQuery(ctx, gen.SQL)
	if err != nil {
		resp.Error = err.Error()
		resp.Suggestions = append(resp.Suggestions, suggestionsFor(a, err)...)
		g.finish(ctx, resp, clientID, path, start, err)
		return resp, err
	}

	resp.Rows = result.Rows
	resp.RowCount = result.RowCount
	if resp.RowCount == 0 {
		resp.RowCount = len(result.Rows)
	}
	resp.BytesProcessed = result.BytesProcessed
	columns := result.Columns
	if len(columns) == 0 {
		columns = sortedColumns(result.Rows)
	}
	g.describe(ctx, resp, columns)
	g.finish(ctx, resp, clientID, path, start, nil)
	return resp, nil
}

// describe types every column and renders the formatted rows.
func (g *Generator) describe(ctx context.Context, resp *QueryResponse, columns []string) {
	resp.Columns = make([]ColumnInfo, 0, len(columns))
	for _, col := range columns {
		info := ColumnInfo{Name: col, DisplayType: models.DisplayText}
		if g.deps.Knowledge != nil {
			match := g.deps.Knowledge.GetColumnType(ctx, col)
			if match.DisplayType != "" {
				info.DisplayType = match.DisplayType
			}
		}
		info.FormatTemplate = info.DisplayType.FormatTemplate()
		resp.Columns = append(resp.Columns, info)
	}

	resp.Formatted = make([]map[string]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		out := make(map[string]string, len(resp.Columns))
		for _, c := range resp.Columns {
			out[c.Name] = format.Value(row[c.Name], c.DisplayType)
		}
		resp.Formatted = append(resp.Formatted, out)
	}
}

func (g *Generator) finish(ctx context.Context, resp *QueryResponse, clientID, path string, start time.Time, err error) {
	elapsed := g.now().Sub(start)
	resp.ExecutionTime = elapsed

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case resp.Error != "":
		status = "clarification"
	}
	observability.QueriesTotal.WithLabelValues(path, status).Inc()
	g.logger.Info("Question answered",
		zap.String("client_id", clientID),
		zap.String("path", path),
		zap.String("status", status),
		zap.Int("rows", resp.RowCount),
		zap.Duration("elapsed", elapsed))

	if path == PathClarify || g.deps.QueryLog == nil {
		return
	}
	entry := &models.QueryLogEntry{
		ClientID:        clientID,
		Question:        resp.Question,
		SQL:             resp.SQL,
		ExecutionTimeMs: elapsed.Milliseconds(),
		BytesProcessed:  resp.BytesProcessed,
		RowCount:        resp.RowCount,
		Error:           resp.Error,
		FromPreCalc:     resp.FromPreCalc,
	}
	if logErr := g.deps.QueryLog.Record(ctx, entry); logErr != nil {
		g.logger.Warn("Failed to record query log entry", zap.Error(logErr))
	}
}

func suggestionsFor(a *analysis, err error) []string {
	var out []string
	var whErr *apperrors.WarehouseError
	if errors.As(err, &whErr) && whErr.Timeout {
		out = append(out, "The query timed out; narrow the time period or add a filter")
	}
	if a.qc.TimePeriod == nil {
		out = append(out, "Add a time period, for example \"this quarter\" or \"last month\"")
	}
	if len(a.qc.Metrics) == 0 {
		out = append(out, "Name a specific metric such as gross margin, operating income or revenue")
	}
	return out
}
