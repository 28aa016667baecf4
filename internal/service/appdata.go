package service

import (
	"context"
	"encoding/json"

	"github.com/and161185/untis-auth/internal/convert"
	"github.com/and161185/untis-auth/internal/model"
	"go.uber.org/zap"
)

// appDataResult is the outcome of a metadata fetch. A failed fetch is not an error:
// AppData stays nil and Warning says why.
type appDataResult struct {
	TenantID     string
	SchoolYearID string
	AppData      *model.AppData
	Raw          json.RawMessage
	Warning      *model.Warning
}

func (s *AuthServiceImpl) fetchAppData(ctx context.Context, server, cookies, token string) appDataResult {
	raw, err := s.tr.AppData(ctx, server, cookies, token)
	if err != nil {
		s.log.Warn("app data unavailable, role and child mapping disabled",
			zap.String("server", server),
			zap.Error(err),
		)
		return appDataResult{Warning: &model.Warning{Op: "app data", Err: err}}
	}

	ad, err := convert.CompactAppData(raw)
	if err != nil {
		s.log.Warn("app data unparsable", zap.String("server", server), zap.Error(err))
		return appDataResult{Raw: raw, Warning: &model.Warning{Op: "app data", Err: err}}
	}
	return appDataResult{
		TenantID:     convert.TenantID(ad),
		SchoolYearID: convert.SchoolYearID(ad),
		AppData:      ad,
		Raw:          raw,
	}
}
