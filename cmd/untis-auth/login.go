package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/and161185/untis-auth/internal/crypto"
	"github.com/and161185/untis-auth/internal/model"
	"github.com/and161185/untis-auth/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginUsername      string
	loginPassword      string
	loginQRCode        string
	loginSchool        string
	loginServer        string
	loginStudent       int
	loginForceMetadata bool
	loginRaw           bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print the resulting identity",
	Long: "Log in with a QR code, a username/password, or a configured student entry and " +
		"print person, role, tenant and school year of the resulting session.",
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "username")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password (will prompt if not provided)")
	loginCmd.Flags().StringVar(&loginQRCode, "qrcode", "", "untis:// QR code URL")
	loginCmd.Flags().StringVar(&loginSchool, "school", "", "school login name")
	loginCmd.Flags().StringVar(&loginServer, "server", "", "backend host")
	loginCmd.Flags().IntVar(&loginStudent, "student", -1, "index of a configured student entry")
	loginCmd.Flags().BoolVar(&loginForceMetadata, "force-metadata", false, "refetch account metadata")
	loginCmd.Flags().BoolVar(&loginRaw, "raw", false, "include the raw account metadata")
	rootCmd.AddCommand(loginCmd)
}

type bundleView struct {
	PersonID     int64           `json:"personId"`
	Role         model.Role      `json:"role"`
	School       string          `json:"school"`
	Server       string          `json:"server"`
	TenantID     string          `json:"tenantId,omitempty"`
	SchoolYearID string          `json:"schoolYearId,omitempty"`
	Token        string          `json:"token"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	Warnings     []string        `json:"warnings,omitempty"`
	AppData      json.RawMessage `json:"appData,omitempty"`
}

// viewOf renders b without secrets; the token is shown as a fingerprint.
func viewOf(b *model.IdentityBundle) bundleView {
	v := bundleView{
		PersonID:     b.PersonID,
		Role:         b.Role,
		School:       b.School,
		Server:       b.Server,
		TenantID:     b.TenantID,
		SchoolYearID: b.SchoolYearID,
		Token:        crypto.Fingerprint(b.Token),
		ExpiresAt:    b.ExpiresAt,
		AppData:      b.RawAppData,
	}
	for _, w := range b.Warnings {
		v.Warnings = append(v.Warnings, w.String())
	}
	return v
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := loginTarget(a, cmd)
	if err != nil {
		return err
	}

	b, err := a.authenticate(cmd.Context(), st, loginForceMetadata)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	v := viewOf(b)
	if !loginRaw {
		v.AppData = nil
	}
	return printJSON(cmd.OutOrStdout(), v)
}

// loginTarget builds the entry to log in with from flags, layered over a configured
// student entry when --student is set.
func loginTarget(a *app, cmd *cobra.Command) (model.StudentConfig, error) {
	var st model.StudentConfig
	if loginStudent >= 0 {
		if loginStudent >= len(a.cfg.Students) {
			return st, fmt.Errorf("no student entry %d (have %d)", loginStudent, len(a.cfg.Students))
		}
		st = a.cfg.Students[loginStudent]
	}
	if loginQRCode != "" {
		st.QRCode = loginQRCode
	}
	if loginUsername != "" {
		st.Username = loginUsername
	}
	if loginSchool != "" {
		st.School = loginSchool
	}
	if loginServer != "" {
		st.Server = loginServer
	}
	if loginPassword != "" {
		st.Password = loginPassword
	}

	if st.QRCode == "" && st.Username != "" && st.Password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return st, fmt.Errorf("read password: %w", err)
		}
		st.Password = string(pw)
	}
	return st, nil
}

// requestFor picks how a student entry logs in: its QR code, its own credentials, or the
// module's parent login. A non-empty qr means QR login.
func requestFor(st model.StudentConfig, mod model.ModuleConfig) (qr string, req service.AuthRequest) {
	school, server := service.ResolveSchoolAndServer(st, mod)
	req = service.AuthRequest{School: school, Server: server}
	switch {
	case st.QRCode != "":
		return st.QRCode, req
	case st.Username != "" && st.Password != "":
		req.Username, req.Password = st.Username, st.Password
	case mod.Username != "":
		req.Username, req.Password = mod.Username, mod.Password
	case mod.QRCode != "":
		return mod.QRCode, req
	}
	return "", req
}

func (a *app) authenticate(ctx context.Context, st model.StudentConfig, forceMetadata bool) (*model.IdentityBundle, error) {
	qr, req := requestFor(st, a.cfg.Module)
	if qr != "" {
		return a.broker.GetAuthFromQR(ctx, qr, service.QROptions{ForceFreshMetadata: forceMetadata})
	}
	req.ForceFreshMetadata = forceMetadata
	return a.broker.GetAuth(ctx, req)
}

// cacheKeyFor mirrors the key the broker files a student's bundle under.
func cacheKeyFor(st model.StudentConfig, mod model.ModuleConfig) string {
	qr, req := requestFor(st, mod)
	if qr != "" {
		return service.CacheKeyForQR(qr)
	}
	return service.CacheKeyForUser(req.Username, req.Server, req.School)
}
