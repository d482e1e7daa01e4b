package services

import (
	"fmt"
	"strings"
	"time"

	"example.com/backstage/contacts/internal/models"
)

// EventStatusProcessingStarted tells the client the pipeline has the contact
const EventStatusProcessingStarted = "PROCESSING_STARTED"

// EstimatedResponseLayout formats SubmitResponse.EstimatedResponse
const EstimatedResponseLayout = "Jan 02, 2006 at 3:04 PM"

// SubmitResponse is returned to the visitor after a successful submission
type SubmitResponse struct {
	ContactID         string          `json:"contactId"`
	Status            models.Status   `json:"status"`
	Priority          models.Priority `json:"priority"`
	EventStatus       string          `json:"eventStatus"`
	Message           string          `json:"message"`
	ResponseTime      string          `json:"responseTime"`
	NextSteps         string          `json:"nextSteps"`
	EstimatedResponse string          `json:"estimatedResponse"`
	QueuePosition     int64           `json:"queuePosition"`
}

func buildSubmitResponse(c *models.Contact, queuePosition int64, now time.Time) *SubmitResponse {
	return &SubmitResponse{
		ContactID:         c.ID,
		Status:            c.Status,
		Priority:          c.Priority,
		EventStatus:       EventStatusProcessingStarted,
		Message:           personalizedMessage(c.Name, c.Priority),
		ResponseTime:      responseTime(c.Priority),
		NextSteps:         nextSteps(c.Message),
		EstimatedResponse: now.Add(responseWindow(c.Priority)).Format(EstimatedResponseLayout),
		QueuePosition:     queuePosition,
	}
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func personalizedMessage(name string, p models.Priority) string {
	first := firstName(name)
	switch p {
	case models.PriorityUrgent:
		return fmt.Sprintf("Hi %s! Thanks for your urgent message. I'm prioritizing this and will respond very soon.", first)
	case models.PriorityHigh:
		return fmt.Sprintf("Hi %s! Thanks for reaching out. Your message caught my attention and I'll respond quickly.", first)
	case models.PriorityMedium:
		return fmt.Sprintf("Hi %s! Thanks for your message. I've received it and will get back to you soon.", first)
	case models.PriorityLow:
		return fmt.Sprintf("Hi %s! Thanks for reaching out. I've received your message and will respond when I can.", first)
	}
	return fmt.Sprintf("Hi %s! Thanks for your message.", first)
}

func responseTime(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "within 2-4 hours"
	case models.PriorityHigh:
		return "within 8 hours"
	case models.PriorityMedium:
		return "within 24 hours"
	case models.PriorityLow:
		return "within 48 hours"
	}
	return "within 48 hours"
}

func responseWindow(p models.Priority) time.Duration {
	switch p {
	case models.PriorityUrgent:
		return 3 * time.Hour
	case models.PriorityHigh:
		return 8 * time.Hour
	case models.PriorityMedium:
		return 24 * time.Hour
	case models.PriorityLow:
		return 48 * time.Hour
	}
	return 48 * time.Hour
}

func nextSteps(message string) string {
	text := strings.ToLower(message)
	switch {
	case strings.Contains(text, "hiring"), strings.Contains(text, "job"), strings.Contains(text, "interview"):
		return "I'll review your opportunity and send you my latest CV along with my response."
	case strings.Contains(text, "project"), strings.Contains(text, "collaborate"):
		return "I'll assess the project requirements and get back to you with my availability and approach."
	case strings.Contains(text, "meeting"), strings.Contains(text, "call"):
		return "I'll check my calendar and propose some meeting times that work for both of us."
	}
	return "I'll review your message carefully and provide a detailed response."
}
