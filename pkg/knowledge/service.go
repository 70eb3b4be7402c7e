// Package knowledge is the semantic index over metric definitions, business
// synonyms, column display types and curated SQL examples. Every lookup has a
// deterministic keyword fallback used when the vector store cannot answer.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/vector"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

// Distance thresholds per lookup.
const (
	metricDistance     = 0.5
	metricsDistance    = 0.6
	termDistance       = 0.3
	columnTypeDistance = 0.4
	exampleDistance    = 0.6
	schemaDistance     = 0.9
)

// Confidence assigned to keyword-table answers.
const (
	keywordMetricConfidence  = 0.6
	keywordTermConfidence    = 0.7
	keywordExampleConfidence = 0.5
	ruleColumnConfidence     = 0.95
	defaultColumnConfidence  = 0.3
)

// Service answers knowledge lookups.
type Service interface {
	FindMetric(ctx context.Context, query string) *models.MetricMatch
	FindMetrics(ctx context.Context, query string, k int) []models.MetricMatch
	ResolveTerm(ctx context.Context, term string) *models.TermMatch
	GetColumnType(ctx context.Context, column string) models.ColumnTypeMatch
	GetSimilarSQLExamples(ctx context.Context, query string, k int, dialect string) []models.SQLExample
	// Seed indexes the built-in catalogues.
	Seed(ctx context.Context) error
	IndexSchema(ctx context.Context, tables []warehouse.TableSchema) error
	SearchTables(ctx context.Context, query string, k int) []warehouse.TableSchema
}

// Capabilities describes which statement sections a tenant's GL mapping covers.
type Capabilities struct {
	HasDepreciation bool
	HasBalanceSheet bool
	HasBelowTheLine bool
}

// CapabilitiesFromBuckets inspects a tenant's bucket ids.
func CapabilitiesFromBuckets(bucketIDs []string) Capabilities {
	var c Capabilities
	for _, b := range bucketIDs {
		u := strings.ToUpper(b)
		switch {
		case u == "GNA_DA" || u == "COGS_DP" || strings.Contains(u, "DEPR"):
			c.HasDepreciation = true
		case strings.HasPrefix(u, "ASSET") || strings.HasPrefix(u, "LIAB") || strings.HasPrefix(u, "EQUITY"):
			c.HasBalanceSheet = true
		case u == "FIN_INC" || u == "FIN_EXP" || u == "TAX_INC":
			c.HasBelowTheLine = true
		}
	}
	return c
}

type service struct {
	store    vector.Store
	embedder vector.Embedder
	caps     Capabilities
	logger   *zap.Logger

	schemaMu sync.RWMutex
	schema   map[string]warehouse.TableSchema
}

var _ Service = (*service)(nil)

// NewService creates a knowledge service. store and embedder may be nil, in
// which case every lookup uses the keyword tables.
func NewService(store vector.Store, embedder vector.Embedder, caps Capabilities, logger *zap.Logger) Service {
	return &service{
		store:    store,
		embedder: embedder,
		caps:     caps,
		logger:   logger.Named("knowledge"),
		schema:   make(map[string]warehouse.TableSchema),
	}
}

// search embeds text and queries a collection. ok is false when the caller
// should answer from the keyword tables instead.
func (s *service) search(ctx context.Context, op, collection, text string, limit int) ([]vector.Result, bool) {
	if s.store == nil || s.embedder == nil {
		observability.KnowledgeFallbacksTotal.WithLabelValues(op).Inc()
		return nil, false
	}
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Debug("Embedding failed, using keyword fallback", zap.String("op", op), zap.Error(err))
		observability.KnowledgeFallbacksTotal.WithLabelValues(op).Inc()
		return nil, false
	}
	results, err := s.store.NearVector(ctx, collection, emb, limit)
	if err != nil {
		s.logger.Debug("Vector search failed, using keyword fallback", zap.String("op", op), zap.Error(err))
		observability.KnowledgeFallbacksTotal.WithLabelValues(op).Inc()
		return nil, false
	}
	return results, true
}

// ============================================================================
// Metrics
// ============================================================================

func metricByCode(code string) (models.MetricMatch, bool) {
	for _, m := range metricCatalog {
		if m.Code == code {
			return cloneMetric(m), true
		}
	}
	return models.MetricMatch{}, false
}

func cloneMetric(m models.MetricMatch) models.MetricMatch {
	m.Synonyms = append([]string(nil), m.Synonyms...)
	m.Components = append([]string(nil), m.Components...)
	m.Available = true
	return m
}

func (s *service) applyAvailability(m *models.MetricMatch) {
	switch m.Code {
	case "EBITDA":
		if !s.caps.HasDepreciation {
			m.Available = false
			m.Substitute = "OPERATING_INCOME"
			m.Note = "No depreciation bucket (GNA_DA, COGS_DP) is mapped; operating income is the closest available metric"
		}
	case "ROI", "ROE":
		if !s.caps.HasBalanceSheet {
			m.Available = false
			m.Substitute = "NET_MARGIN_PCT"
			m.Note = "Balance-sheet accounts are not mapped; net margin is the closest available return measure"
		}
	case "NET_INCOME", "NET_MARGIN_PCT":
		if !s.caps.HasBelowTheLine {
			m.Available = false
			m.Substitute = "OPERATING_INCOME"
			m.Note = "Financing and tax buckets are not mapped; operating income is the closest available metric"
		}
	}
}

func (s *service) FindMetric(ctx context.Context, query string) *models.MetricMatch {
	if results, ok := s.search(ctx, "find_metric", CollectionMetrics, query, 1); ok && len(results) > 0 && results[0].Distance < metricDistance {
		if m, found := metricByCode(results[0].Record.ID); found {
			m.Confidence = 1 - results[0].Distance
			s.applyAvailability(&m)
			return &m
		}
	}

	matches := keywordMetrics(query)
	if len(matches) == 0 {
		return nil
	}
	m := matches[0]
	s.applyAvailability(&m)
	return &m
}

func (s *service) FindMetrics(ctx context.Context, query string, k int) []models.MetricMatch {
	if k <= 0 {
		k = 5
	}
	if results, ok := s.search(ctx, "find_metrics", CollectionMetrics, query, k); ok {
		var out []models.MetricMatch
		for _, r := range results {
			if r.Distance >= metricsDistance {
				continue
			}
			if m, found := metricByCode(r.Record.ID); found {
				m.Confidence = 1 - r.Distance
				s.applyAvailability(&m)
				out = append(out, m)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	matches := keywordMetrics(query)
	if len(matches) > k {
		matches = matches[:k]
	}
	for i := range matches {
		s.applyAvailability(&matches[i])
	}
	return matches
}

// normalizeText lowercases and reduces punctuation to single spaces, keeping % and &.
func normalizeText(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '%' || r == '&' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// keywordMetrics ranks catalogue metrics by the longest synonym found in query.
func keywordMetrics(query string) []models.MetricMatch {
	q := normalizeText(query)
	type scored struct {
		m   models.MetricMatch
		len int
	}
	var hits []scored
	for _, m := range metricCatalog {
		best := 0
		for _, syn := range append([]string{m.Name}, m.Synonyms...) {
			n := normalizeText(syn)
			if n != "" && containsPhrase(q, n) && len(n) > best {
				best = len(n)
			}
		}
		if best > 0 {
			c := cloneMetric(m)
			c.Confidence = keywordMetricConfidence
			hits = append(hits, scored{m: c, len: best})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].len > hits[j].len })
	out := make([]models.MetricMatch, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	return out
}

// ============================================================================
// Terms
// ============================================================================

func (s *service) ResolveTerm(ctx context.Context, term string) *models.TermMatch {
	if results, ok := s.search(ctx, "resolve_term", CollectionTerms, term, 1); ok && len(results) > 0 && results[0].Distance < termDistance {
		for _, t := range termCatalog {
			if "term:"+t.Term == results[0].Record.ID {
				match := t
				match.RelatedMetrics = append([]string(nil), t.RelatedMetrics...)
				match.Confidence = 1 - results[0].Distance
				return &match
			}
		}
	}

	n := normalizeText(term)
	for _, t := range termCatalog {
		if normalizeText(t.Term) == n {
			match := t
			match.RelatedMetrics = append([]string(nil), t.RelatedMetrics...)
			match.Confidence = keywordTermConfidence
			return &match
		}
	}
	return nil
}

// ============================================================================
// Column types
// ============================================================================

func (s *service) GetColumnType(ctx context.Context, column string) models.ColumnTypeMatch {
	name := strings.ToLower(strings.TrimSpace(column))
	for _, rule := range columnRules {
		for _, kw := range rule.keywords {
			hit := strings.Contains(name, kw)
			if rule.suffix {
				hit = strings.HasSuffix(name, kw)
			}
			if hit {
				return models.ColumnTypeMatch{
					ColumnPattern:  kw,
					DisplayType:    rule.display,
					FormatTemplate: rule.display.FormatTemplate(),
					Confidence:     ruleColumnConfidence,
				}
			}
		}
	}

	if results, ok := s.search(ctx, "get_column_type", CollectionColumnTypes, column, 1); ok && len(results) > 0 && results[0].Distance < columnTypeDistance {
		display := models.DisplayType(results[0].Record.Properties["display_type"])
		return models.ColumnTypeMatch{
			ColumnPattern:  results[0].Record.Text,
			DisplayType:    display,
			FormatTemplate: display.FormatTemplate(),
			Confidence:     1 - results[0].Distance,
		}
	}

	return models.ColumnTypeMatch{
		ColumnPattern:  name,
		DisplayType:    models.DisplayText,
		FormatTemplate: models.DisplayText.FormatTemplate(),
		Confidence:     defaultColumnConfidence,
	}
}

// ============================================================================
// SQL examples
// ============================================================================

func (s *service) GetSimilarSQLExamples(ctx context.Context, query string, k int, dialect string) []models.SQLExample {
	if k <= 0 {
		k = 3
	}
	if dialect == "" {
		dialect = models.DialectBigQuery
	}

	// Over-fetch so the dialect filter still leaves k candidates.
	if results, ok := s.search(ctx, "similar_sql_examples", CollectionSQLExamples, query, k*3); ok {
		var out []models.SQLExample
		for _, r := range results {
			if r.Distance >= exampleDistance || r.Record.Properties["dialect"] != dialect {
				continue
			}
			var idx int
			if _, err := fmt.Sscanf(r.Record.Properties["index"], "%d", &idx); err != nil || idx < 0 || idx >= len(sqlExampleCatalog) {
				continue
			}
			ex := sqlExampleCatalog[idx]
			ex.Confidence = 1 - r.Distance
			out = append(out, ex)
			if len(out) == k {
				break
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return keywordExamples(query, k, dialect)
}

func keywordExamples(query string, k int, dialect string) []models.SQLExample {
	q := " " + strings.ToLower(query) + " "
	wanted := make(map[string]bool)
	for category, kws := range exampleCategoryKeywords {
		for _, kw := range kws {
			if strings.Contains(q, kw) {
				wanted[category] = true
				break
			}
		}
	}

	var matched, rest []models.SQLExample
	for _, ex := range sqlExampleCatalog {
		if ex.Dialect != dialect {
			continue
		}
		ex.Confidence = keywordExampleConfidence
		if wanted[ex.Category] {
			matched = append(matched, ex)
		} else {
			rest = append(rest, ex)
		}
	}
	out := matched
	if len(out) == 0 {
		out = rest
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// ============================================================================
// Seeding and schema
// ============================================================================

func (s *service) upsertTexts(ctx context.Context, collection string, records []vector.Record) error {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", collection, err)
	}
	if len(embeddings) != len(records) {
		return fmt.Errorf("embedding count mismatch for %s: got %d, want %d", collection, len(embeddings), len(records))
	}
	for i := range records {
		records[i].Embedding = embeddings[i]
	}
	if err := s.store.Upsert(ctx, collection, records); err != nil {
		return fmt.Errorf("failed to index %s: %w", collection, err)
	}
	return nil
}

func (s *service) Seed(ctx context.Context) error {
	if s.store == nil || s.embedder == nil {
		return nil
	}

	metrics := make([]vector.Record, 0, len(metricCatalog))
	for _, m := range metricCatalog {
		metrics = append(metrics, vector.Record{ID: m.Code, Text: m.Name + " " + strings.Join(m.Synonyms, " ")})
	}

	terms := make([]vector.Record, 0, len(termCatalog))
	for _, t := range termCatalog {
		terms = append(terms, vector.Record{ID: "term:" + t.Term, Text: t.Term})
	}

	columns := make([]vector.Record, 0, len(columnTypeSeeds))
	for i, c := range columnTypeSeeds {
		columns = append(columns, vector.Record{
			ID:         fmt.Sprintf("column:%d", i),
			Text:       c.ColumnPattern,
			Properties: map[string]string{"display_type": string(c.DisplayType)},
		})
	}

	examples := make([]vector.Record, 0, len(sqlExampleCatalog))
	for i, ex := range sqlExampleCatalog {
		examples = append(examples, vector.Record{
			ID:         fmt.Sprintf("example:%d", i),
			Text:       ex.Question,
			Properties: map[string]string{"dialect": ex.Dialect, "index": fmt.Sprintf("%d", i), "category": ex.Category},
		})
	}

	for _, batch := range []struct {
		collection string
		records    []vector.Record
	}{
		{CollectionMetrics, metrics},
		{CollectionTerms, terms},
		{CollectionColumnTypes, columns},
		{CollectionSQLExamples, examples},
	} {
		if err := s.upsertTexts(ctx, batch.collection, batch.records); err != nil {
			return err
		}
	}

	s.logger.Info("Seeded knowledge collections",
		zap.Int("metrics", len(metrics)),
		zap.Int("terms", len(terms)),
		zap.Int("column_types", len(columns)),
		zap.Int("sql_examples", len(examples)))
	return nil
}

func (s *service) IndexSchema(ctx context.Context, tables []warehouse.TableSchema) error {
	s.schemaMu.Lock()
	for _, t := range tables {
		s.schema[t.Name] = t
	}
	s.schemaMu.Unlock()

	if s.store == nil || s.embedder == nil || len(tables) == 0 {
		return nil
	}
	records := make([]vector.Record, 0, len(tables))
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		records = append(records, vector.Record{ID: t.Name, Text: t.Name + " " + strings.Join(cols, " ")})
	}
	return s.upsertTexts(ctx, CollectionSchema, records)
}

// SearchTables returns up to k indexed tables relevant to query. Without a
// usable vector store it ranks tables by shared words.
func (s *service) SearchTables(ctx context.Context, query string, k int) []warehouse.TableSchema {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()
	if len(s.schema) == 0 {
		return nil
	}

	var out []warehouse.TableSchema
	if results, ok := s.search(ctx, "search_tables", CollectionSchema, query, k); ok {
		for _, r := range results {
			if t, found := s.schema[r.Record.ID]; found && r.Distance < schemaDistance {
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	words := vector.Tokenize(query)
	type scored struct {
		t     warehouse.TableSchema
		score int
	}
	var ranked []scored
	for _, t := range s.schema {
		text := strings.Join(vector.Tokenize(t.Name), " ")
		for _, c := range t.Columns {
			text += " " + strings.Join(vector.Tokenize(c.Name), " ")
		}
		score := 0
		for _, w := range words {
			if containsPhrase(text, w) {
				score++
			}
		}
		ranked = append(ranked, scored{t: t, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].t.Name < ranked[j].t.Name
		}
		return ranked[i].score > ranked[j].score
	})
	for _, r := range ranked {
		if len(out) == k {
			break
		}
		out = append(out, r.t)
	}
	return out
}
