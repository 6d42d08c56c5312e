package bugzilla

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

// Bug is one entry of a /rest/bug response. Fields holds every returned
// field rendered as a string, for grouping.
type Bug struct {
	ID      int
	Summary string
	Status  string
	Fields  map[string]string
}

// Resolved reports whether the bug is closed out on the server.
func (b Bug) Resolved() bool {
	switch strings.ToUpper(b.Status) {
	case "RESOLVED", "VERIFIED", "CLOSED":
		return true
	}
	return false
}

// TaskName is the name of the task that tracks the bug.
func (b Bug) TaskName() string {
	return fmt.Sprintf("%d %s", b.ID, b.Summary)
}

var baseFields = []string{"id", "summary", "status"}

// BuildURL returns the bug query for an instance. Without a previous
// refresh only open bugs are requested; afterwards every bug changed since
// then is, so resolutions are seen.
func BuildURL(inst domain.BugzillaInstance, since *time.Time) (string, error) {
	base, err := url.Parse(strings.TrimRight(inst.URL, "/") + "/rest/bug")
	if err != nil {
		return "", fmt.Errorf("bugzilla url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("bugzilla url: unsupported scheme %q", base.Scheme)
	}
	fields := append([]string(nil), baseFields...)
	for _, f := range inst.GroupTasksBy {
		if !contains(fields, f) {
			fields = append(fields, f)
		}
	}
	q := url.Values{}
	q.Set("assigned_to", inst.Username)
	q.Set("api_key", inst.APIKey)
	q.Set("include_fields", strings.Join(fields, ","))
	if since == nil {
		q.Set("resolution", "---")
	} else {
		q.Set("last_change_time", since.UTC().Format(time.RFC3339))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

var ErrMalformedResponse = errors.New("malformed bugzilla response")

// ParseBugs decodes a {"bugs": [...]} document.
func ParseBugs(body string) ([]Bug, error) {
	var doc struct {
		Bugs []map[string]any `json:"bugs"`
		// set by bugzilla on failures reported with a 200 status
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if doc.Error {
		return nil, fmt.Errorf("bugzilla error: %s", doc.Message)
	}

	var bugs []Bug
	for i, raw := range doc.Bugs {
		num, ok := raw["id"].(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: bug %d has no id", ErrMalformedResponse, i)
		}
		id, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: bug id %s", ErrMalformedResponse, num)
		}
		b := Bug{ID: int(id), Fields: make(map[string]string, len(raw))}
		for k, v := range raw {
			b.Fields[k] = fieldString(v)
		}
		b.Summary = b.Fields["summary"]
		b.Status = b.Fields["status"]
		bugs = append(bugs, b)
	}
	return bugs, nil
}

func fieldString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fieldString(p))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		// user objects carry a display name
		for _, k := range []string{"real_name", "name", "email"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprint(v)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
