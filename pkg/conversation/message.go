package conversation

import (
	"strings"
	"time"
	"unicode"

	"github.com/go-go-golems/tangent/pkg/ids"
)

// Sender distinguishes the two sides of a chat turn. Anything else is rejected
// at the boundary by ParseSender, so an invalid sender can never be stored.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

func ParseSender(s string) (Sender, error) {
	switch Sender(s) {
	case SenderUser:
		return SenderUser, nil
	case SenderAssistant:
		return SenderAssistant, nil
	default:
		return "", NewValidationError("unknown sender %q", s)
	}
}

const (
	// MaxContentLength bounds a single message's content in runes.
	MaxContentLength = 8000
	// MaxTitleLength bounds branch and conversation titles in runes.
	MaxTitleLength = 100
)

// Message is a single chat turn inside a branch. Only Starred is ever mutated
// after creation; messages are removed only by whole-branch deletion.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Sender      Sender    `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
	BranchPoint bool      `json:"branchPoint"`
	Starred     bool      `json:"starred"`
}

// Clone returns an independent copy. Forks copy their prefix through Clone so
// that starring a message on one branch never aliases into another.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

func newMessage(content string, sender Sender, now time.Time) *Message {
	return &Message{
		ID:          ids.New(ids.KindMessage),
		Content:     content,
		Sender:      sender,
		Timestamp:   now,
		BranchPoint: sender == SenderAssistant,
	}
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", NewValidationError("message content is empty")
	}
	if len([]rune(content)) > MaxContentLength {
		return "", NewValidationError("message content exceeds %d characters", MaxContentLength)
	}
	return content, nil
}

// sanitizeTitle strips control characters and collapses whitespace runs.
func sanitizeTitle(title string) (string, error) {
	var sb strings.Builder
	inSpace := false
	for _, r := range title {
		switch {
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			inSpace = true
		default:
			if inSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			inSpace = false
			sb.WriteRune(r)
		}
	}
	cleaned := sb.String()
	if cleaned == "" {
		return "", NewValidationError("title is empty")
	}
	if len([]rune(cleaned)) > MaxTitleLength {
		return "", NewValidationError("title exceeds %d characters", MaxTitleLength)
	}
	return cleaned, nil
}
