package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/opsbase/tally/internal/attribution/domain"
	"github.com/opsbase/tally/internal/orgcontext"
	"github.com/opsbase/tally/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPageSize = 250

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo attributiondomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo attributiondomain.Repository
}

func New(p Params) attributiondomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("attribution.service"),
		repo: p.Repo,
	}
}

func (s *Service) List(ctx context.Context, req attributiondomain.ListRequest) (*attributiondomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, attributiondomain.ErrInvalidOrganization
	}

	query := attributiondomain.ListQuery{OrgID: orgID}

	if userID := strings.TrimSpace(req.UserID); userID != "" {
		parsed, err := snowflake.ParseString(userID)
		if err != nil {
			return nil, attributiondomain.ErrInvalidUser
		}
		query.UserID = parsed
	}
	if req.Since != nil {
		query.Since = req.Since.Unix()
	}
	if req.Until != nil {
		query.Until = req.Until.Unix()
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	query.Limit = pageSize + 1

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, attributiondomain.ErrInvalidPageToken
		}
		beforeID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, attributiondomain.ErrInvalidPageToken
		}
		query.BeforeID = beforeID
	}

	records, err := s.repo.List(ctx, s.db, query)
	if err != nil {
		return nil, err
	}

	resp := &attributiondomain.ListResponse{}
	hasMore := len(records) > pageSize
	if hasMore {
		records = records[:pageSize]
	}
	resp.HasMore = hasMore

	if hasMore && len(records) > 0 {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: records[len(records)-1].ID.String()})
		if err != nil {
			return nil, err
		}
		resp.NextPageToken = token
	}

	resp.Records = make([]attributiondomain.RecordResponse, 0, len(records))
	for i := range records {
		rec := &records[i]
		resp.Records = append(resp.Records, attributiondomain.RecordResponse{
			ID:          rec.ID.String(),
			UserID:      rec.UserID.String(),
			ServiceName: rec.ServiceName,
			CreditsUsed: rec.CreditsUsed,
			RequestID:   rec.RequestID,
			Metadata:    rec.Metadata,
			CreatedAt:   rec.CreatedAt,
		})
	}

	return resp, nil
}
