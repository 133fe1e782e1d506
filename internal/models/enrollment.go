package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Instructor is the denormalised instructor snapshot embedded in a course.
type Instructor struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UnmarshalJSON accepts an unpopulated instructor reference (a bare id) or any
// other non-object value as an instructor without names.
func (i *Instructor) UnmarshalJSON(data []byte) error {
	*i = Instructor{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var payload struct {
		FirstName json.RawMessage `json:"firstName"`
		LastName  json.RawMessage `json:"lastName"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil
	}
	i.FirstName = looseString(payload.FirstName)
	i.LastName = looseString(payload.LastName)
	return nil
}

// Amount is a price that tolerates numeric strings; anything else reads as 0.
type Amount float64

// UnmarshalJSON accepts numbers and numeric strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = 0
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil
		}
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			*a = Amount(parsed)
		}
		return nil
	}

	var value float64
	if err := json.Unmarshal(trimmed, &value); err == nil {
		*a = Amount(value)
	}
	return nil
}

func looseString(raw json.RawMessage) string {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

// FullName joins the instructor's names.
func (i Instructor) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
}

// CourseRef is the read-only course snapshot carried by an enrollment.
type CourseRef struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Category         string     `json:"category"`
	Level            string     `json:"level"`
	ShortDescription string     `json:"shortDescription,omitempty"`
	Description      string     `json:"description,omitempty"`
	Thumbnail        string     `json:"thumbnail,omitempty"`
	Price            Amount     `json:"price"`
	Instructor       Instructor `json:"instructor"`
}

// Enrollment is one student's relationship to one course, owned by the backend.
type Enrollment struct {
	ID           string    `json:"id,omitempty"`
	Course       CourseRef `json:"course"`
	EnrolledAt   Timestamp `json:"enrolledAt"`
	LastAccessed Timestamp `json:"lastAccessed"`
	Progress     Progress  `json:"progress"`
}

// SearchFields returns the text fields a search query is matched against.
func (e Enrollment) SearchFields() []string {
	return []string{
		e.Course.Title,
		e.Course.Instructor.FirstName,
		e.Course.Instructor.LastName,
		e.Course.ShortDescription,
		e.Course.Description,
	}
}

// UnmarshalJSON accepts both "id" and "_id" identifiers, and a bare id string
// when the backend did not populate the course.
func (c *CourseRef) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '"' {
		*c = CourseRef{}
		return json.Unmarshal(trimmed, &c.ID)
	}

	type alias CourseRef
	var payload struct {
		alias
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*c = CourseRef(payload.alias)
	if c.ID == "" {
		c.ID = payload.MongoID
	}
	return nil
}

// UnmarshalJSON accepts both "id" and "_id" identifiers.
func (e *Enrollment) UnmarshalJSON(data []byte) error {
	type alias Enrollment
	var payload struct {
		alias
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*e = Enrollment(payload.alias)
	if e.ID == "" {
		e.ID = payload.MongoID
	}
	return nil
}
