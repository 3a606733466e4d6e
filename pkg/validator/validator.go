package validator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxContentLength   = 4000
	MaxAttachments     = 10
	MaxAttachmentBytes = 10 << 20
	MaxEmojiBytes      = 32
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, msg := range v {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

var (
	usernameRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	slugRegex      = regexp.MustCompile(`^[a-z0-9_-]+$`)
	shortcodeRegex = regexp.MustCompile(`^:[a-z0-9_+-]+:$`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// NormalizeChannelName trims, lower-cases and joins whitespace runs with "-".
func NormalizeChannelName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return whitespaceRun.ReplaceAllString(name, "-")
}

// ValidateChannel expects a name already passed through NormalizeChannelName.
func ValidateChannel(name, description string) ValidationErrors {
	errs := make(ValidationErrors)

	if name == "" {
		errs.Add("name", "Channel name is required")
	} else if len(name) < 2 {
		errs.Add("name", "Channel name must be at least 2 characters")
	} else if len(name) > 80 {
		errs.Add("name", "Channel name is too long")
	} else if !slugRegex.MatchString(name) {
		errs.Add("name", "Channel name can only contain lowercase letters, numbers, _ and -")
	}

	if utf8.RuneCountInString(description) > 500 {
		errs.Add("description", "Description is too long")
	}

	return errs
}

func ValidateProfile(username, displayName string) ValidationErrors {
	errs := make(ValidationErrors)

	username = strings.TrimSpace(username)
	if username == "" {
		errs.Add("username", "Username is required")
	} else if len(username) < 3 {
		errs.Add("username", "Username must be at least 3 characters")
	} else if len(username) > 50 {
		errs.Add("username", "Username is too long")
	} else if !usernameRegex.MatchString(username) {
		errs.Add("username", "Username can only contain letters, numbers, _ and -")
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		errs.Add("display_name", "Display name is required")
	} else if len(displayName) > 100 {
		errs.Add("display_name", "Display name is too long")
	}

	return errs
}

func ValidateRole(role string) ValidationErrors {
	errs := make(ValidationErrors)
	switch role {
	case "member", "admin", "super_admin":
	default:
		errs.Add("role", "Role must be member, admin, or super_admin")
	}
	return errs
}

// Attachment is the subset of an attachment the validator looks at.
type Attachment struct {
	Name string
	URL  string
	Size int64
}

// ValidateMessage checks a message body. Content may be empty only when
// at least one attachment is present.
func ValidateMessage(content string, attachments []Attachment) ValidationErrors {
	errs := make(ValidationErrors)

	trimmed := strings.TrimSpace(content)
	if trimmed == "" && len(attachments) == 0 {
		errs.Add("content", "Message must have content or at least one attachment")
	} else if utf8.RuneCountInString(trimmed) > MaxContentLength {
		errs.Add("content", fmt.Sprintf("Message can be at most %d characters", MaxContentLength))
	}

	if len(attachments) > MaxAttachments {
		errs.Add("attachments", fmt.Sprintf("A message can have at most %d attachments", MaxAttachments))
		return errs
	}

	for i, a := range attachments {
		field := fmt.Sprintf("attachments[%d]", i)
		switch {
		case strings.TrimSpace(a.Name) == "":
			errs.Add(field, "Attachment name is required")
		case !isHTTPURL(a.URL):
			errs.Add(field, "Attachment url must be an http or https URL")
		case a.Size < 0 || a.Size > MaxAttachmentBytes:
			errs.Add(field, "Attachment is larger than 10 MB")
		}
	}

	return errs
}

// ValidateEmoji accepts a :shortcode: or a string holding at least one
// non-ASCII symbol, such as a Unicode emoji with optional modifiers.
func ValidateEmoji(emoji string) ValidationErrors {
	errs := make(ValidationErrors)

	if emoji == "" {
		errs.Add("emoji", "Emoji is required")
		return errs
	}
	if len(emoji) > MaxEmojiBytes || !utf8.ValidString(emoji) {
		errs.Add("emoji", "Invalid emoji")
		return errs
	}
	if shortcodeRegex.MatchString(emoji) {
		return errs
	}

	var hasSymbol bool
	for _, r := range emoji {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			errs.Add("emoji", "Invalid emoji")
			return errs
		}
		if r > unicode.MaxASCII && (unicode.IsSymbol(r) || unicode.Is(unicode.Me, r)) {
			hasSymbol = true
		}
	}
	if !hasSymbol {
		errs.Add("emoji", "Invalid emoji")
	}
	return errs
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
