package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// reference identifies one secret version. Accepted forms:
//
//	secret://db-dsn
//	secret://db-dsn?project=ops&version=3
//	secret://projects/ops/secrets/db-dsn[/versions/3]
//
// sm:// is accepted as an alias of secret://.
type reference struct {
	display string
	project string
	name    string
	version string
}

func (r reference) resource() string {
	return "projects/" + r.project + "/secrets/" + r.name + "/versions/" + r.version
}

// envKey is the key used in the local fallback file: db-dsn becomes DB_DSN.
func (r reference) envKey() string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z':
			return c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		}
		return '_'
	}, r.name)
}

func parseRef(raw, defaultProject string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: parse %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: %q is not a secret:// reference", raw)
	}

	q := u.Query()
	ref := reference{project: q.Get("project"), version: q.Get("version")}
	parts := strings.Split(strings.Trim(u.Host+u.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		ref.name = parts[0]
	case (len(parts) == 4 || len(parts) == 6) && parts[0] == "projects" && parts[2] == "secrets":
		ref.project, ref.name = parts[1], parts[3]
		if len(parts) == 6 {
			if parts[4] != "versions" {
				return reference{}, fmt.Errorf("secrets: malformed resource in %q", raw)
			}
			ref.version = parts[5]
		}
	default:
		return reference{}, fmt.Errorf("secrets: malformed resource in %q", raw)
	}
	if ref.project == "" {
		ref.project = strings.TrimSpace(defaultProject)
	}
	if ref.version == "" {
		ref.version = "latest"
	}
	u.RawQuery, u.Fragment = "", ""
	ref.display = u.String()
	return ref, nil
}
