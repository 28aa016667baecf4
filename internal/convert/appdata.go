// Package convert reshapes backend payloads into the compact domain form kept in cache.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/and161185/untis-auth/internal/model"
)

// CompactAppData keeps only the metadata fields later resolution depends on:
// holidays, current school year (id, time grid), user (students, person, roles), tenant id.
func CompactAppData(raw json.RawMessage) (*model.AppData, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty app data")
	}
	var ad model.AppData
	if err := json.Unmarshal(raw, &ad); err != nil {
		return nil, fmt.Errorf("parse app data: %w", err)
	}
	return &ad, nil
}

// OpaqueID renders a JSON id (number or string) as a string. Missing or null ids give "".
func OpaqueID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// TenantID returns the tenant id of ad, or "".
func TenantID(ad *model.AppData) string {
	if ad == nil || ad.Tenant == nil {
		return ""
	}
	return OpaqueID(ad.Tenant.ID)
}

// SchoolYearID returns the current school-year id of ad, or "".
func SchoolYearID(ad *model.AppData) string {
	if ad == nil || ad.CurrentSchoolYear == nil {
		return ""
	}
	return OpaqueID(ad.CurrentSchoolYear.ID)
}

// PersonID returns user.person.id when it is numeric.
func PersonID(ad *model.AppData) (int64, bool) {
	if ad == nil || ad.User == nil {
		return 0, false
	}
	return NumericID(ad.User.Person, "id")
}

// NumericID reads the first of keys holding a JSON number from m. Strings do not count.
func NumericID(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v), true
		case json.Number:
			if n, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// StringField returns m[key] when it is a non-empty string.
func StringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
