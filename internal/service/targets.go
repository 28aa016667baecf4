package service

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/and161185/untis-auth/internal/convert"
	"github.com/and161185/untis-auth/internal/model"
)

// CacheKeyForQR derives the cache key of a QR login.
func CacheKeyForQR(qrURL string) string {
	return "qrcode:" + qrURL
}

// CacheKeyForUser derives the cache key of a credential login.
func CacheKeyForUser(username, server, school string) string {
	host := server
	if host == "" {
		host = school
	}
	return "user:" + username + "@" + host
}

// TargetInput carries everything BuildRestTargets needs. It performs no I/O.
type TargetInput struct {
	Student     model.StudentConfig
	Module      model.ModuleConfig
	School      string
	Server      string
	OwnPersonID int64
	BearerToken string
	AppData     *model.AppData
	Role        model.Role
}

// BuildRestTargets resolves which backend person, and with which login, the data layer
// queries for one configured student entry.
func BuildRestTargets(in TargetInput) []model.RestTarget {
	st := in.Student
	hasQR := firstNonEmpty(st.QRCode, in.Module.QRCode) != ""
	hasOwnCreds := st.Username != "" && st.Password != ""
	hasParentCreds := in.Module.Username != "" && in.Module.Password != ""
	// A module QR code only logs in when no credentials are configured.
	moduleQRLogin := st.QRCode == "" && in.Module.QRCode != "" && !hasOwnCreds && !hasParentCreds
	directLogin := st.QRCode != "" || hasOwnCreds || moduleQRLogin
	parentLogin := hasParentCreds && !directLogin

	targetID, role := in.OwnPersonID, in.Role
	if in.Role != model.RoleTeacher {
		targetID = effectiveStudentID(in, parentLogin, directLogin)
		if targetID != in.OwnPersonID && in.Role == model.RoleLegalGuardian {
			role = model.RoleStudent
		}
	}

	var targets []model.RestTarget
	if hasQR && in.School != "" && in.Server != "" {
		targets = append(targets, model.RestTarget{
			Mode:     model.TargetModeQR,
			School:   in.School,
			Server:   in.Server,
			PersonID: targetID,
			Role:     role,
		})
	}

	username, password := in.Module.Username, in.Module.Password
	if hasOwnCreds {
		username, password = st.Username, st.Password
	}
	if (hasParentCreds || hasOwnCreds) && targetID != 0 {
		targets = append(targets, model.RestTarget{
			Mode:     model.TargetModeParent,
			School:   in.School,
			Server:   in.Server,
			Username: username,
			Password: password,
			PersonID: targetID,
			Role:     role,
		})
	}
	return targets
}

func effectiveStudentID(in TargetInput, parentLogin, directLogin bool) int64 {
	if in.Student.StudentID != 0 {
		return in.Student.StudentID
	}
	if in.Student.AutoStudentID != 0 {
		return in.Student.AutoStudentID
	}
	if parentLogin {
		if id, ok := matchChild(DeriveStudentsFromAppData(in.AppData), in.Student.Title); ok {
			return id
		}
	}
	if directLogin && in.OwnPersonID != 0 {
		return in.OwnPersonID
	}
	if id, ok := PersonIDFromJWT(in.BearerToken); ok {
		return id
	}
	return 0
}

// matchChild picks the child whose title contains the configured title, else the first child.
func matchChild(children []model.Student, title string) (int64, bool) {
	if len(children) == 0 {
		return 0, false
	}
	want := strings.ToLower(strings.TrimSpace(title))
	if want != "" {
		for _, c := range children {
			if strings.Contains(strings.ToLower(c.Title), want) {
				return c.StudentID, true
			}
		}
	}
	return children[0].StudentID, true
}

// DeriveStudentsFromAppData lists the children linked to the account. Entries without a
// numeric id (id, studentId or personId) are skipped.
func DeriveStudentsFromAppData(ad *model.AppData) []model.Student {
	if ad == nil || ad.User == nil {
		return nil
	}
	var out []model.Student
	for i, raw := range ad.User.Students {
		id, ok := convert.NumericID(raw, "id", "studentId", "personId")
		if !ok {
			continue
		}
		title := convert.StringField(raw, "displayName")
		if title == "" {
			title = convert.StringField(raw, "name")
		}
		if title == "" {
			title = fmt.Sprintf("Student %d", i+1)
		}
		out = append(out, model.Student{
			Title:     title,
			StudentID: id,
			ImageURL:  convert.StringField(raw, "imageUrl"),
		})
	}
	return out
}

// ResolveSchoolAndServer prefers per-student values, then module defaults, then the
// school / url parameters of a configured QR code. A full URL server is reduced to its host.
func ResolveSchoolAndServer(st model.StudentConfig, mod model.ModuleConfig) (school, server string) {
	school = firstNonEmpty(st.School, mod.School)
	server = firstNonEmpty(st.Server, mod.Server)

	if school == "" || server == "" {
		if qr := firstNonEmpty(st.QRCode, mod.QRCode); qr != "" {
			if u, err := url.Parse(qr); err == nil {
				q := u.Query()
				school = firstNonEmpty(school, q.Get("school"))
				server = firstNonEmpty(server, q.Get("url"))
			}
		}
	}
	return school, hostOnly(server)
}

func hostOnly(server string) string {
	if !strings.Contains(server, "://") {
		return server
	}
	u, err := url.Parse(server)
	if err != nil || u.Hostname() == "" {
		return server
	}
	return u.Hostname()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
