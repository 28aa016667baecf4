package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const fullAppData = `{
  "holidays": [{"id": 1, "name": "Winter"}],
  "currentSchoolYear": {"id": 12, "name": "2025/26", "timeGrid": {"units": [{"startTime": 800}]}, "dateRange": {}},
  "user": {
    "id": 5,
    "name": "parent",
    "person": {"id": 900, "displayName": "Parent"},
    "roles": ["LEGAL_GUARDIAN"],
    "students": [{"id": 111, "displayName": "Max"}],
    "permissions": {"views": ["a", "b"]}
  },
  "tenant": {"id": "T-1", "displayName": "Demo"},
  "settings": {"huge": true},
  "ownPersonId": 900
}`

func TestCompactAppData(t *testing.T) {
	t.Parallel()

	ad, err := CompactAppData(json.RawMessage(fullAppData))
	require.NoError(t, err)

	out, err := json.Marshal(ad)
	require.NoError(t, err)
	require.NotContains(t, string(out), "settings")
	require.NotContains(t, string(out), "permissions")
	require.NotContains(t, string(out), "dateRange")

	require.Equal(t, "T-1", TenantID(ad))
	require.Equal(t, "12", SchoolYearID(ad))
	require.JSONEq(t, `{"units":[{"startTime":800}]}`, string(ad.CurrentSchoolYear.TimeGrid))
	require.Len(t, ad.User.Students, 1)

	pid, ok := PersonID(ad)
	require.True(t, ok)
	require.Equal(t, int64(900), pid)
}

func TestCompactAppData_Invalid(t *testing.T) {
	t.Parallel()

	_, err := CompactAppData(nil)
	require.Error(t, err)
	_, err = CompactAppData(json.RawMessage(`[1,2`))
	require.Error(t, err)
}

func TestOpaqueID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "42", OpaqueID(json.RawMessage(`42`)))
	require.Equal(t, "abc", OpaqueID(json.RawMessage(`"abc"`)))
	require.Equal(t, "", OpaqueID(json.RawMessage(`null`)))
	require.Equal(t, "", OpaqueID(nil))
	require.Equal(t, "", OpaqueID(json.RawMessage(`{"x":1}`)))
	require.Equal(t, "", TenantID(nil))
}

func TestNumericID(t *testing.T) {
	t.Parallel()

	m := map[string]any{"id": "111", "studentId": float64(222), "personId": float64(333)}
	n, ok := NumericID(m, "id", "studentId", "personId")
	require.True(t, ok)
	require.Equal(t, int64(222), n)

	_, ok = NumericID(map[string]any{"id": "x"}, "id")
	require.False(t, ok)
}
