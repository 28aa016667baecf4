package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/and161185/untis-auth/internal/keychain"
	"github.com/and161185/untis-auth/internal/model"
	"github.com/and161185/untis-auth/internal/service"
	"github.com/stretchr/testify/require"
)

const parentAppData = `{
	"user": {
		"roles": ["LEGAL_GUARDIAN"],
		"person": {"id": 500},
		"students": [{"id": 111, "displayName": "Anna Muster"}, {"id": 222, "displayName": "Ben Muster"}]
	},
	"tenant": {"id": 7},
	"currentSchoolYear": {"id": 12}
}`

type fakeBackend struct {
	logins   atomic.Int32
	logouts  atomic.Int32
	rejected atomic.Bool
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/WebUntis/jsonrpc.do", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     string `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc: %v", err)
		}
		var result any
		switch req.Method {
		case "authenticate":
			f.logins.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "SID1"})
			result = map[string]any{"sessionId": "SID1", "personId": 500, "personType": 12}
		case "logout":
			f.logouts.Add(1)
		case "flaky":
			if f.rejected.CompareAndSwap(false, true) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			result = "ok"
		default:
			result = map[string]any{"echo": req.Method}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	})
	mux.HandleFunc("/WebUntis/api/token/new", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Cookie"), "JSESSIONID=SID1") {
			_, _ = w.Write([]byte("<!DOCTYPE html><html></html>"))
			return
		}
		_, _ = w.Write([]byte("bearer-token"))
	})
	mux.HandleFunc("/WebUntis/api/rest/view/v1/app/data", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(parentAppData))
	})
	return mux
}

// setup writes a config pointing at a fake backend and resets command state.
func setup(t *testing.T) (*fakeBackend, *bytes.Buffer) {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")

	kc := keychain.NewMock()
	_ = kc.Set("parent", "pw")
	orig := keychainFactory
	keychainFactory = func() keychain.Keychain { return kc }
	t.Cleanup(func() { keychainFactory = orig })

	cfg := "http:\n  scheme: http\nlog:\n  level: error\nmodule:\n  school: demo\n  server: " + host +
		"\n  username: parent\n  password: keyring:parent\nstudents:\n  - title: ben\n  - title: Anna\n    student_id: 4711\n"
	path := filepath.Join(t.TempDir(), "untis-auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	for _, key := range []string{"UNTIS_USERNAME", "UNTIS_PASSWORD", "UNTIS_SERVER", "UNTIS_SCHOOL", "UNTIS_QRCODE", "UNTIS_HTTP_SCHEME"} {
		t.Setenv(key, "")
	}

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	configPath = path
	return fb, out
}

func TestVersionCommand(t *testing.T) {
	_, out := setup(t)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "untis-auth version dev")
}

func TestLoginCommand(t *testing.T) {
	fb, out := setup(t)
	rootCmd.SetArgs([]string{"login", "--student", "0"})
	require.NoError(t, rootCmd.Execute())

	var v bundleView
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	require.EqualValues(t, 500, v.PersonID)
	require.Equal(t, model.RoleLegalGuardian, v.Role)
	require.Equal(t, "7", v.TenantID)
	require.Equal(t, "12", v.SchoolYearID)
	require.NotEqual(t, "bearer-token", v.Token)
	require.Nil(t, v.AppData)
	require.EqualValues(t, 1, fb.logins.Load())
	loginStudent = -1
}

func TestTargetsCommand(t *testing.T) {
	fb, out := setup(t)
	rootCmd.SetArgs([]string{"targets"})
	require.NoError(t, rootCmd.Execute())

	var got []studentTargets
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 2)
	require.Len(t, got[0].Targets, 1)
	require.EqualValues(t, 222, got[0].Targets[0].PersonID)
	require.Equal(t, model.RoleStudent, got[0].Targets[0].Role)
	require.EqualValues(t, 4711, got[1].Targets[0].PersonID)
	require.EqualValues(t, 1, fb.logins.Load(), "both entries share the parent session")
	require.NotContains(t, out.String(), `"pw"`)
}

func TestStudentsCommand(t *testing.T) {
	_, out := setup(t)
	rootCmd.SetArgs([]string{"students"})
	require.NoError(t, rootCmd.Execute())

	var got []model.Student
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, []model.Student{
		{Title: "Anna Muster", StudentID: 111},
		{Title: "Ben Muster", StudentID: 222},
	}, got)
}

func TestLogoutCommand(t *testing.T) {
	fb, out := setup(t)
	rootCmd.SetArgs([]string{"logout", "--student", "1"})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "logged out\n", out.String())
	require.EqualValues(t, 1, fb.logouts.Load())
	logoutStudent = 0
}

func TestRPCCommand(t *testing.T) {
	_, out := setup(t)
	rootCmd.SetArgs([]string{"rpc", "getTimegridUnits", `{"a":1}`})
	require.NoError(t, rootCmd.Execute())
	require.JSONEq(t, `{"echo":"getTimegridUnits"}`, out.String())
}

func TestRPCCommand_ReauthOnUnauthorized(t *testing.T) {
	fb, out := setup(t)
	rootCmd.SetArgs([]string{"rpc", "flaky"})
	require.NoError(t, rootCmd.Execute())
	require.JSONEq(t, `"ok"`, out.String())
	require.EqualValues(t, 2, fb.logins.Load(), "401 must force a clean login")
}

func TestRequestFor(t *testing.T) {
	t.Parallel()

	mod := model.ModuleConfig{School: "demo", Server: "demo.webuntis.com", Username: "parent", Password: "pw"}

	qr, req := requestFor(model.StudentConfig{QRCode: "untis://setschool?key=K"}, mod)
	require.Equal(t, "untis://setschool?key=K", qr)
	require.Empty(t, req.Username)

	qr, req = requestFor(model.StudentConfig{Username: "kid", Password: "kpw"}, mod)
	require.Empty(t, qr)
	require.Equal(t, "kid", req.Username)
	require.Equal(t, "demo.webuntis.com", req.Server)

	qr, req = requestFor(model.StudentConfig{Title: "Ben"}, mod)
	require.Empty(t, qr)
	require.Equal(t, "parent", req.Username)

	require.Equal(t,
		service.CacheKeyForUser("parent", "demo.webuntis.com", "demo"),
		cacheKeyFor(model.StudentConfig{Title: "Ben"}, mod))
}
