package backend

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/caredose/caredose/core/schedule"
)

// User is the account of an authenticated subject. The user identifier is
// the subject of the verified identity token.
type User struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

// Dependant is a person the user manages medications for.
type Dependant struct {
	DependantID string `json:"dependant_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone,omitempty"`
}

// Medication is a medication of a user, optionally with a dosing schedule.
type Medication struct {
	MedicationID string             `json:"medication_id"`
	Name         string             `json:"name"`
	Nickname     string             `json:"nickname,omitempty"`
	Dosage       string             `json:"dosage,omitempty"`
	ContainerID  string             `json:"container_id,omitempty"`
	Schedule     *schedule.Schedule `json:"schedule,omitempty"`
}

// MedicationEvent records one taken dose of a medication.
type MedicationEvent struct {
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Dosage    string `json:"dosage,omitempty"`
}

// The attributes a PATCH request may touch, per object type. Anything else
// in the request body is ignored; a body touching none of them is rejected.
var (
	userPatchKeys       = []string{"first_name", "last_name", "phone", "medications", "dependants"}
	dependantPatchKeys  = []string{"first_name", "last_name", "phone"}
	medicationPatchKeys = []string{"name", "nickname", "dosage", "container_id", "schedule"}
	eventPatchKeys      = []string{"timestamp", "dosage"}
)

// whitelistedPatch copies the allowed keys present in body into a partial
// update for the document store. An empty result is an invalid request.
func whitelistedPatch(body map[string]json.RawMessage, allowed []string) (map[string]json.RawMessage, error) {
	patch := map[string]json.RawMessage{}
	for _, key := range allowed {
		if value, ok := body[key]; ok {
			patch[key] = value
		}
	}
	if len(patch) == 0 {
		return nil, invalidRequestError("request body contains no updatable attributes")
	}
	return patch, nil
}

// timestampLayout is ISO-8601 without a timezone, fractional seconds only
// when present. It matches the timestamps the mobile clients send.
const timestampLayout = "2006-01-02T15:04:05.999999"

// parseTimestamp accepts ISO-8601 timestamps with or without timezone.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(timestampLayout, s)
}

// formatTimestamp renders the canonical stored form. Zoned inputs are
// converted to UTC first, naive inputs already parse as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
