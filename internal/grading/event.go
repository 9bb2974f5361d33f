// Package grading defines the event vocabulary shared by the queue poller,
// the progress aggregator, and the live event stream.
package grading

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the messages produced by the recognition worker pool.
type Kind string

// Event kinds the poller dispatches on.
const (
	KindStudentIDRecognition Kind = "STUDENT_ID_RECOGNITION"
	KindQuestionRecognition  Kind = "QUESTION_RECOGNITION"
	KindAttendanceUpload     Kind = "ATTENDANCE_UPLOAD"
	KindError                Kind = "ERROR"
)

// UnknownStudentID is the sentinel the recognition workers emit when a header
// image could not be attributed to a student.
const UnknownStudentID = "unknown_id"

// Event is a queue message decoded into the fields this service consumes.
// Raw keeps the full decoded body so error events can be forwarded verbatim
// and unknown fields survive round trips.
type Event struct {
	Kind          Kind
	ExamCode      string
	StudentID     string
	Filename      string
	Total         int
	Status        string
	Message       string
	DownloadURL   string
	PresignedURLs []string
	Raw           map[string]any
}

// IsRecognition reports whether the event carries recognition progress. The
// two recognition sub-kinds collapse to the same handling.
func (e Event) IsRecognition() bool {
	return e.Kind == KindStudentIDRecognition || e.Kind == KindQuestionRecognition
}

// NormalizeExamCode canonicalizes an exam code for use as a registry key.
func NormalizeExamCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseEvent decodes a queue message body. Both historical field spellings
// are accepted (examCode/exam_code, studentId/student_id, filename/fileName)
// and a missing event type defaults to STUDENT_ID_RECOGNITION, matching what
// the producers have actually sent over time.
func ParseEvent(body []byte) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event body: %w", err)
	}
	evt := Event{
		Kind:        Kind(stringField(raw, "event_type", "eventType")),
		ExamCode:    NormalizeExamCode(stringField(raw, "examCode", "exam_code")),
		StudentID:   stringField(raw, "studentId", "student_id"),
		Filename:    stringField(raw, "filename", "fileName"),
		Total:       intField(raw, "total"),
		Status:      stringField(raw, "status"),
		Message:     stringField(raw, "message"),
		DownloadURL: stringField(raw, "downloadUrl", "download_url"),
		Raw:         raw,
	}
	if evt.Kind == "" {
		evt.Kind = KindStudentIDRecognition
	}
	if urls, ok := raw["presignedUrls"].([]any); ok {
		for _, u := range urls {
			if s, ok := u.(string); ok && s != "" {
				evt.PresignedURLs = append(evt.PresignedURLs, s)
			}
		}
	}
	return evt, nil
}

func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// intField tolerates JSON numbers and numeric strings; the producers have
// emitted both for the total field.
func intField(raw map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return int(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return int(f)
			}
		}
	}
	return 0
}
