package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ValidateDraft verifica as restrições do create.
func ValidateDraft(d Draft) error {
	fields := map[string]string{}
	checkTitle(fields, d.Title, true)
	if strings.TrimSpace(d.Content) == "" {
		fields["content"] = "must not be blank"
	}
	if d.StartAt == nil {
		fields["startAt"] = "must not be null"
	}
	if d.EndAt == nil {
		fields["endAt"] = "must not be null"
	}
	if d.StartAt != nil && d.EndAt != nil {
		checkWindow(fields, *d.StartAt, *d.EndAt)
	}
	checkUploads(fields, d.Files)
	if len(fields) > 0 {
		return Validation("create", fields)
	}
	return nil
}

// ApplyPatch devolve cur com os campos presentes em p aplicados e valida o
// resultado. Attachments não é tocado.
func ApplyPatch(cur Notice, p Patch) (Notice, error) {
	fields := map[string]string{}
	if strings.TrimSpace(p.Title) != "" {
		checkTitle(fields, p.Title, false)
		cur.Title = strings.TrimSpace(p.Title)
	}
	if strings.TrimSpace(p.Content) != "" {
		cur.Content = p.Content
	}
	if p.StartAt != nil {
		cur.StartAt = p.StartAt.UTC()
	}
	if p.EndAt != nil {
		cur.EndAt = p.EndAt.UTC()
	}
	checkWindow(fields, cur.StartAt, cur.EndAt)
	checkUploads(fields, p.Files)
	if p.ExpectedVersion < 0 {
		fields["version"] = "must be positive"
	}
	if len(fields) > 0 {
		return cur, Validation("update", fields)
	}
	return cur, nil
}

func ValidateUsername(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return Validation("create user", map[string]string{"username": "must not be blank"})
	case utf8.RuneCountInString(name) > MaxUsernameLen:
		return Validation("create user", map[string]string{"username": "must be at most 50 characters"})
	}
	return nil
}

func checkTitle(fields map[string]string, title string, required bool) {
	t := strings.TrimSpace(title)
	if t == "" {
		if required {
			fields["title"] = "must not be blank"
		}
		return
	}
	if utf8.RuneCountInString(t) > MaxTitleLen {
		fields["title"] = "must be at most 255 characters"
	}
}

func checkWindow(fields map[string]string, start, end time.Time) {
	if end.Before(start) {
		fields["endAt"] = "must not precede startAt"
	}
}

func checkUploads(fields map[string]string, files []Upload) {
	for _, f := range files {
		if strings.TrimSpace(f.FileName) == "" || f.Body == nil {
			fields["files"] = "every file needs a name and content"
			return
		}
	}
}
