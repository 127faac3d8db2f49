package repository

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/opensource-finance/collector/internal/domain"
)

// likeEscaper escapes LIKE wildcards in user input.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListCases returns one page of cases matching filter, ordered by creation
// time then id, newest first. Page and PageSize are expected to be
// normalized by the caller.
func (s *sqlStore) ListCases(ctx context.Context, filter domain.CaseFilter) (*domain.CasePage, error) {
	where := sq.And{}
	if filter.Status != nil {
		where = append(where, sq.Eq{"c.status": string(*filter.Status)})
	}
	if filter.Stage != nil {
		where = append(where, sq.Eq{"c.stage": string(*filter.Stage)})
	}
	if filter.DPDMin != nil {
		where = append(where, sq.GtOrEq{"c.dpd": *filter.DPDMin})
	}
	if filter.DPDMax != nil {
		where = append(where, sq.LtOrEq{"c.dpd": *filter.DPDMax})
	}
	if filter.AssignedTo != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(filter.AssignedTo)) + "%"
		where = append(where, sq.Expr(`LOWER(c.assigned_to) LIKE ? ESCAPE '\'`, pattern))
	}

	countQuery, countArgs, err := s.builder.Select("COUNT(*)").From("cases c").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := s.q.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count cases: %w", err)
	}

	pageQuery, pageArgs, err := s.caseRecordSelect().
		Where(where).
		OrderBy("c.created_at DESC", "c.id DESC").
		Limit(uint64(filter.PageSize)).
		Offset(uint64((filter.Page - 1) * filter.PageSize)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build page query: %w", err)
	}

	records, err := s.queryCaseRecords(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}

	totalPages := int(math.Ceil(float64(total) / float64(filter.PageSize)))
	if totalPages < 1 {
		totalPages = 1
	}

	return &domain.CasePage{
		Data: records,
		Pagination: domain.Pagination{
			Page:       filter.Page,
			PageSize:   filter.PageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// DashboardMetrics counts active cases, cases resolved in [dayStart, dayEnd)
// and the mean DPD of active cases rounded to two decimals.
func (s *sqlStore) DashboardMetrics(ctx context.Context, dayStart, dayEnd time.Time) (*domain.DashboardMetrics, error) {
	var m domain.DashboardMetrics

	activeQuery, activeArgs, err := s.builder.
		Select("COUNT(*)", "COALESCE(AVG(dpd), 0)").
		From("cases").
		Where(sq.Eq{"status": activeStatusValues()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build active metrics query: %w", err)
	}

	var avg float64
	if err := s.q.QueryRowContext(ctx, activeQuery, activeArgs...).Scan(&m.OpenCasesCount, &avg); err != nil {
		return nil, fmt.Errorf("active case metrics: %w", err)
	}
	m.AvgOpenDPD = math.Round(avg*100) / 100

	resolvedQuery, resolvedArgs, err := s.builder.
		Select("COUNT(*)").
		From("cases").
		Where(sq.Eq{"status": string(domain.StatusResolved)}).
		Where(sq.GtOrEq{"resolved_at": dayStart.UTC()}).
		Where(sq.Lt{"resolved_at": dayEnd.UTC()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build resolved metrics query: %w", err)
	}

	if err := s.q.QueryRowContext(ctx, resolvedQuery, resolvedArgs...).Scan(&m.ResolvedTodayCount); err != nil {
		return nil, fmt.Errorf("resolved case metrics: %w", err)
	}

	return &m, nil
}
