package domain

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	netscapeHeader = "# Netscape HTTP Cookie File"
	httpOnlyPrefix = "#HttpOnly_"
)

// Cookie is a single cookie record of a credential set.
type Cookie struct {
	Domain            string    `json:"domain"`
	IncludeSubdomains bool      `json:"include_subdomains"`
	Path              string    `json:"path"`
	Secure            bool      `json:"secure"`
	HTTPOnly          bool      `json:"http_only,omitempty"`
	Expires           time.Time `json:"expires,omitempty"` // zero for session cookies
	Name              string    `json:"name"`
	Value             string    `json:"value"`
}

// Expired reports whether the cookie carries an expiry in the past.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// CredentialSet is the authenticated session data injected into jobs.
type CredentialSet struct {
	Cookies    []Cookie  `json:"cookies"`
	Source     string    `json:"source"`
	Label      string    `json:"label,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`

	// Skipped counts jar lines dropped as malformed during parsing.
	Skipped int `json:"-"`
}

// IsEmpty reports whether the set holds no cookies.
func (cs *CredentialSet) IsEmpty() bool {
	return cs == nil || len(cs.Cookies) == 0
}

// Expired reports whether the set can no longer be used: either its own
// expiry passed, or every cookie that carries an expiry is in the past.
func (cs *CredentialSet) Expired(now time.Time) bool {
	if cs.IsEmpty() {
		return true
	}
	if !cs.ExpiresAt.IsZero() && !cs.ExpiresAt.After(now) {
		return true
	}
	withExpiry := 0
	for _, c := range cs.Cookies {
		if c.Expires.IsZero() {
			continue
		}
		withExpiry++
		if !c.Expired(now) {
			return false
		}
	}
	return withExpiry > 0 && withExpiry == len(cs.Cookies)
}

// Clone returns a deep copy.
func (cs *CredentialSet) Clone() *CredentialSet {
	if cs == nil {
		return nil
	}
	cp := *cs
	cp.Cookies = append([]Cookie(nil), cs.Cookies...)
	return &cp
}

// FilterDomains keeps only cookies whose domain matches one of suffixes.
// An empty suffix list keeps everything.
func (cs *CredentialSet) FilterDomains(suffixes []string) {
	if len(suffixes) == 0 {
		return
	}
	kept := cs.Cookies[:0]
	for _, c := range cs.Cookies {
		if domainMatches(c.Domain, suffixes) {
			kept = append(kept, c)
		}
	}
	cs.Cookies = kept
}

func domainMatches(domain string, suffixes []string) bool {
	d := "." + strings.TrimPrefix(strings.ToLower(domain), ".")
	for _, s := range suffixes {
		s = "." + strings.TrimPrefix(strings.ToLower(s), ".")
		if strings.HasSuffix(d, s) {
			return true
		}
	}
	return false
}

// Netscape serializes the set in cookie-jar format.
func (cs *CredentialSet) Netscape() string {
	var b strings.Builder
	b.WriteString(netscapeHeader + "\n")
	b.WriteString("# https://curl.haxx.se/docs/http-cookies.html\n\n")
	for _, c := range cs.Cookies {
		domain := c.Domain
		if c.HTTPOnly {
			domain = httpOnlyPrefix + domain
		}
		var expires int64
		if !c.Expires.IsZero() {
			expires = c.Expires.Unix()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, boolField(c.IncludeSubdomains), path, boolField(c.Secure), expires, c.Name, c.Value)
	}
	return b.String()
}

func boolField(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// ParseNetscapeCookies parses cookie-jar text into a credential set.
// Blank lines and comments are ignored. Lines that are not valid cookie
// records are skipped and counted in Skipped; only a jar with no valid
// cookie at all is rejected.
func ParseNetscapeCookies(raw string) (*CredentialSet, error) {
	set := &CredentialSet{Source: "import", CapturedAt: time.Now()}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	var firstBad *ParseError
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		cookie, reason := parseCookieLine(line)
		if reason != "" {
			set.Skipped++
			if firstBad == nil {
				firstBad = &ParseError{Line: lineNo, Reason: reason}
			}
			continue
		}
		cookie.HTTPOnly = httpOnly
		set.Cookies = append(set.Cookies, cookie)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if len(set.Cookies) == 0 {
		if firstBad != nil {
			return nil, &ParseError{Line: firstBad.Line, Reason: "no valid cookies found: " + firstBad.Reason}
		}
		return nil, &ParseError{Reason: "no valid cookies found"}
	}

	return set, nil
}

// parseCookieLine decodes one record. A non-empty reason means the line
// is not a usable cookie.
func parseCookieLine(line string) (Cookie, string) {
	fields := strings.Split(line, "\t")
	if len(fields) < 7 {
		return Cookie{}, fmt.Sprintf("expected 7 tab-separated fields, got %d", len(fields))
	}

	cookie := Cookie{
		Domain:            strings.TrimSpace(fields[0]),
		IncludeSubdomains: strings.EqualFold(fields[1], "TRUE"),
		Path:              fields[2],
		Secure:            strings.EqualFold(fields[3], "TRUE"),
		Name:              fields[5],
		Value:             strings.Join(fields[6:], "\t"),
	}
	if cookie.Domain == "" || cookie.Name == "" {
		return Cookie{}, "empty domain or name"
	}

	expires, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64)
	if err != nil {
		return Cookie{}, "invalid expiry " + strconv.Quote(fields[4])
	}
	if expires > 0 {
		cookie.Expires = time.Unix(expires, 0).UTC()
	}
	return cookie, ""
}

// SameCookies reports whether both sets hold the same cookies in the same
// order, ignoring metadata such as Source and CapturedAt.
func (cs *CredentialSet) SameCookies(other *CredentialSet) bool {
	if cs == nil || other == nil {
		return cs == other
	}
	if len(cs.Cookies) != len(other.Cookies) {
		return false
	}
	for i, c := range cs.Cookies {
		o := other.Cookies[i]
		if c.Domain != o.Domain || c.Name != o.Name || c.Value != o.Value ||
			c.Path != o.Path || c.Secure != o.Secure || c.HTTPOnly != o.HTTPOnly ||
			c.IncludeSubdomains != o.IncludeSubdomains || !c.Expires.Equal(o.Expires) {
			return false
		}
	}
	return true
}
