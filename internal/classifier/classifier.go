// Package classifier assigns priorities to contact messages by keyword.
package classifier

import (
	"strings"

	"example.com/backstage/contacts/internal/models"
)

var (
	urgentKeywords = []string{"urgent", "asap", "immediately", "hiring", "job opportunity"}
	highKeywords   = []string{"interested", "project", "collaborate", "interview"}

	jobKeywords       = []string{"job", "hiring", "opportunity", "position"}
	escalateKeywords  = []string{"urgent", "asap", "immediately"}
	technicalKeywords = []string{"java", "spring", "kafka", "microservices", "golang", "kubernetes", "docker"}
)

// Classify returns the submission-time priority for a message. The first
// matching tier wins. LOW is never produced here.
func Classify(message string) models.Priority {
	text := strings.ToLower(message)
	switch {
	case containsAny(text, urgentKeywords):
		return models.PriorityUrgent
	case containsAny(text, highKeywords):
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}

// Analysis is the result of the consumer-side keyword pass
type Analysis struct {
	Priority   models.Priority
	JobInquiry bool
	Urgent     bool
	Technical  bool
}

// Analyze re-scans a message with the richer keyword sets and returns a
// priority that is never lower than current.
func Analyze(message string, current models.Priority) Analysis {
	text := strings.ToLower(message)
	a := Analysis{
		Priority:   current,
		JobInquiry: containsAny(text, jobKeywords),
		Urgent:     containsAny(text, escalateKeywords),
		Technical:  containsAny(text, technicalKeywords),
	}
	if a.JobInquiry {
		a.Priority = a.Priority.Max(models.PriorityHigh)
	}
	if a.Urgent {
		a.Priority = models.PriorityUrgent
	}
	return a
}

// Summary renders the analysis for the processed event
func (a Analysis) Summary() string {
	var b strings.Builder
	b.WriteString("Analysis complete: ")
	if a.JobInquiry {
		b.WriteString("JOB_INQUIRY detected. ")
	}
	if a.Urgent {
		b.WriteString("URGENT request. ")
	}
	if a.Technical {
		b.WriteString("TECHNICAL discussion. ")
	}
	return strings.TrimSpace(b.String())
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
