package backend

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core/logger"
	"github.com/caredose/caredose/core/pointers"
	"github.com/caredose/caredose/core/schedule"
)

// Occurrence is one scheduled dose of a medication. Occurrences are computed
// on the fly from the medication's schedule, they are never stored.
type Occurrence struct {
	Timestamp    string `json:"timestamp"`
	MedicationID string `json:"medication_id"`
}

// maxScheduledPerPage caps the limit parameter of the scheduled-occurrences
// endpoint. The cap lives in the handler; ScheduledOccurrences itself only
// requires a positive limit.
const maxScheduledPerPage = 1000

// ScheduledOccurrences answers which doses are due for a user within the
// half-open range [startAt, endAt), capped at limit occurrences per page.
//
// Medications are visited in lexicographic identifier order, and each
// medication contributes all of its occurrences before the next one starts.
// So within a page, occurrences are ordered by (medication, timestamp), not
// by global timestamp; two medications are never interleaved by time. Paging
// through via the returned token yields the exact concatenation of the
// unpaginated result, with no duplicates and no gaps.
//
// A non-empty startToken resumes a previous page: the medication it names
// continues from the token's timestamp, every medication sorted after it
// starts from the original startAt. The returned next token is empty when
// there are no more pages.
func (b *Backend) ScheduledOccurrences(ctx context.Context, userID string,
	startAt, endAt time.Time, limit int, startToken string) ([]Occurrence, string, error) {

	if limit < 1 {
		return nil, "", invalidRequestError("limit must be positive")
	}

	medications, err := b.loadMedicationSchedules(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(medications))
	for id := range medications {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fields, err := decodeToken(startToken, scheduledTokenDelimiter, 2)
	if err != nil {
		return nil, "", err
	}
	resumeID := fields[0]
	var resumeAt time.Time
	if resumeID != "" || fields[1] != "" {
		// a resume point is always a complete (medication id, timestamp) pair
		if resumeID == "" || fields[1] == "" {
			return nil, "", invalidRequestError("malformed pagination token")
		}
		resumeAt, err = parseTimestamp(fields[1])
		if err != nil {
			return nil, "", invalidRequestError("malformed timestamp in pagination token")
		}
	}

	occurrences := []Occurrence{}
	for _, id := range ids {
		// medications before the resume point were delivered in full
		// on earlier pages
		if resumeID != "" && id < resumeID {
			continue
		}
		sched := medications[id]
		if sched == nil {
			continue
		}
		effectiveStart := startAt
		if id == resumeID {
			effectiveStart = resumeAt
		}
		series, err := sched.Expand(effectiveStart, endAt)
		if err != nil {
			return nil, "", dataIntegrityError("medication '%s' of user '%s' has an invalid schedule: %s", id, userID, err)
		}
		for len(occurrences) < limit {
			t, ok := series.Next()
			if !ok {
				break
			}
			occurrences = append(occurrences, Occurrence{
				Timestamp:    formatTimestamp(t),
				MedicationID: id,
			})
		}
		if len(occurrences) == limit {
			// the nudge makes the next page resume strictly after the
			// last delivered occurrence
			last := occurrences[limit-1]
			lastAt, err := parseTimestamp(last.Timestamp)
			if err != nil {
				return nil, "", dataIntegrityError("cannot parse generated timestamp '%s'", last.Timestamp)
			}
			nextToken := encodeToken([]string{
				last.MedicationID,
				formatTimestamp(lastAt.Add(time.Microsecond)),
			}, scheduledTokenDelimiter)
			return occurrences, nextToken, nil
		}
	}
	return occurrences, "", nil
}

// loadMedicationSchedules returns the schedules of all medications of the
// user, keyed by medication identifier. Medications without a schedule map
// to nil. A user without a record is a not-found error.
func (b *Backend) loadMedicationSchedules(ctx context.Context, userID string) (map[string]*schedule.Schedule, error) {
	user, err := b.store.Get(ctx, userPath(userID))
	if err != nil {
		return nil, backendFailureError(err)
	}
	if user == nil {
		return nil, notFoundError("no such user '%s'", userID)
	}

	doc, err := b.store.Get(ctx, medicationsPath(userID))
	if err != nil {
		return nil, backendFailureError(err)
	}
	if doc == nil {
		return map[string]*schedule.Schedule{}, nil
	}

	var records map[string]struct {
		Schedule *schedule.Schedule `json:"schedule"`
	}
	if err := json.Unmarshal(doc, &records); err != nil {
		return nil, dataIntegrityError("medications of user '%s' are not a collection: %s", userID, err)
	}

	medications := make(map[string]*schedule.Schedule, len(records))
	for id, record := range records {
		medications[id] = record.Schedule
	}
	return medications, nil
}

// GET /users/{user_id}/medications/scheduled
func (b *Backend) handleScheduled(router *mux.Router) {
	logger.Default().Debugln("  handle scheduled occurrences route: /users/{user_id}/medications/scheduled GET")

	router.HandleFunc("/users/{user_id}/medications/scheduled", func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		userID := params["user_id"]
		if !b.authorize(w, r, userID) {
			return
		}

		var (
			startAt, endAt time.Time
			limit          = 100
			startToken     string
			err            error
		)
		urlQuery := r.URL.Query()
		for key, array := range urlQuery {
			if len(array) > 1 {
				http.Error(w, "illegal parameter array '"+key+"'", http.StatusBadRequest)
				return
			}
			value := array[0]
			switch key {
			case "start_at":
				startAt, err = parseTimestamp(value)
			case "end_at":
				endAt, err = parseTimestamp(value)
			case "limit":
				limit, err = strconv.Atoi(value)
				if err == nil && (limit < 1 || limit > maxScheduledPerPage) {
					err = strconv.ErrRange
				}
			case "next_token":
				startToken = value
			default:
				http.Error(w, "parameter '"+key+"': unknown query parameter", http.StatusBadRequest)
				return
			}
			if err != nil {
				http.Error(w, "parameter '"+key+"': "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if startAt.IsZero() || endAt.IsZero() {
			http.Error(w, "start_at and end_at are mandatory", http.StatusBadRequest)
			return
		}
		if startAt.After(endAt) {
			http.Error(w, "start_at must not be after end_at", http.StatusBadRequest)
			return
		}

		occurrences, nextToken, err := b.ScheduledOccurrences(r.Context(), userID, startAt, endAt, limit, startToken)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response := struct {
			Data      []Occurrence `json:"data"`
			NextToken *string      `json:"next_token"`
		}{Data: occurrences}
		if nextToken != "" {
			response.NextToken = pointers.StringPtr(nextToken)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		data, _ := json.Marshal(response)
		w.Write(data)
	}).Methods(http.MethodOptions, http.MethodGet)
}
