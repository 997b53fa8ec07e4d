package backend

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/logger"
	"github.com/caredose/caredose/core/pointers"
)

// maxEventsPerPage caps the limit parameter of the event list endpoint.
const maxEventsPerPage = 1000

func (b *Backend) handleEvents(router *mux.Router) {
	logger.Default().Debugln("  handle events routes: /users/{user_id}/medications/{medication_id}/events POST GET")
	logger.Default().Debugln("  handle events routes: /users/{user_id}/medications/{medication_id}/events/{event_id} GET PATCH DELETE")

	router.HandleFunc("/users/{user_id}/medications/{medication_id}/events", func(w http.ResponseWriter, r *http.Request) {
		b.createEventWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/users/{user_id}/medications/{medication_id}/events", func(w http.ResponseWriter, r *http.Request) {
		b.listEventsWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}/medications/{medication_id}/events/{event_id}", func(w http.ResponseWriter, r *http.Request) {
		b.getEventWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}/medications/{medication_id}/events/{event_id}", func(w http.ResponseWriter, r *http.Request) {
		b.patchEventWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)

	router.HandleFunc("/users/{user_id}/medications/{medication_id}/events/{event_id}", func(w http.ResponseWriter, r *http.Request) {
		b.deleteEventWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

// requireMedication fails with a not-found error if the medication has no
// record.
func (b *Backend) requireMedication(r *http.Request, userID, medicationID string) error {
	doc, err := b.store.Get(r.Context(), medicationsPath(userID)+"/"+medicationID)
	if err != nil {
		return backendFailureError(err)
	}
	if doc == nil {
		return notFoundError("no such medication '%s'", medicationID)
	}
	return nil
}

func (b *Backend) createEventWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	medicationID := params["medication_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.schemas.ValidateBytes(body, eventSchemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var event MedicationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	timestamp, err := parseTimestamp(event.Timestamp)
	if err != nil {
		http.Error(w, "timestamp: "+err.Error(), http.StatusBadRequest)
		return
	}
	// stored timestamps share one canonical format, which keeps the
	// (timestamp, event id) list order a plain string comparison
	event.Timestamp = formatTimestamp(timestamp)

	if err := b.requireMedication(r, userID, medicationID); err != nil {
		writeError(w, r, err)
		return
	}

	event.EventID, err = b.store.Push(r.Context(), eventsPath(userID, medicationID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	path := eventsPath(userID, medicationID) + "/" + event.EventID
	if err := b.store.Set(r.Context(), path, &event); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	payload, _ := json.Marshal(event)
	b.notify("medication_event", core.OperationCreate, payload)
	writeJSON(w, http.StatusCreated, event)
}

// listEventsWithAuth lists the events of a medication within a time range,
// ordered by (timestamp, event id), with cursor pagination. The cursor names
// the last delivered (timestamp, event id) pair; the next page resumes
// strictly after it.
func (b *Backend) listEventsWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	medicationID := params["medication_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	var (
		startAt, endAt time.Time
		limit          = 100
		nextToken      string
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
			if err == nil && (limit < 1 || limit > maxEventsPerPage) {
				err = strconv.ErrRange
			}
		case "next_token":
			nextToken = value
		default:
			http.Error(w, "parameter '"+key+"': unknown query parameter", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "parameter '"+key+"': "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if !startAt.IsZero() && !endAt.IsZero() && startAt.After(endAt) {
		http.Error(w, "start_at must not be after end_at", http.StatusBadRequest)
		return
	}

	fields, err := decodeToken(nextToken, eventTokenDelimiter, 2)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resumeTimestamp, resumeID := fields[0], fields[1]

	if err := b.requireMedication(r, userID, medicationID); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := b.store.Get(r.Context(), eventsPath(userID, medicationID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	records := map[string]json.RawMessage{}
	if doc != nil {
		if err := json.Unmarshal(doc, &records); err != nil {
			writeError(w, r, dataIntegrityError("events of medication '%s' are not a collection: %s", medicationID, err))
			return
		}
	}

	events := []MedicationEvent{}
	for id, record := range records {
		var event MedicationEvent
		if err := json.Unmarshal(record, &event); err != nil {
			writeError(w, r, dataIntegrityError("cannot decode event '%s': %s", id, err))
			return
		}
		t, err := parseTimestamp(event.Timestamp)
		if err != nil {
			writeError(w, r, dataIntegrityError("event '%s' has an invalid timestamp '%s'", id, event.Timestamp))
			return
		}
		if !startAt.IsZero() && t.Before(startAt) {
			continue
		}
		if !endAt.IsZero() && !t.Before(endAt) {
			continue
		}
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].EventID < events[j].EventID
	})

	// resume strictly after the cursor pair
	if resumeTimestamp != "" {
		from := sort.Search(len(events), func(i int) bool {
			if events[i].Timestamp != resumeTimestamp {
				return events[i].Timestamp > resumeTimestamp
			}
			return events[i].EventID > resumeID
		})
		events = events[from:]
	}

	var token string
	if len(events) > limit {
		events = events[:limit]
		last := events[limit-1]
		token = encodeToken([]string{last.Timestamp, last.EventID}, eventTokenDelimiter)
	}

	response := struct {
		Data      []MedicationEvent `json:"data"`
		NextToken *string           `json:"next_token"`
	}{Data: events}
	if token != "" {
		response.NextToken = pointers.StringPtr(token)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data, _ := json.Marshal(response)
	w.Write(data)
}

func (b *Backend) getEventWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	path := eventsPath(userID, params["medication_id"]) + "/" + params["event_id"]
	var event MedicationEvent
	if err := b.readDocument(r, path, "event", &event); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (b *Backend) patchEventWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	fields, err := readBodyFields(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := whitelistedPatch(fields, eventPatchKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if raw, ok := patch["timestamp"]; ok {
		var timestamp string
		if err := json.Unmarshal(raw, &timestamp); err != nil {
			writeError(w, r, invalidRequestError("timestamp is not a string"))
			return
		}
		t, err := parseTimestamp(timestamp)
		if err != nil {
			writeError(w, r, invalidRequestError("timestamp: %s", err))
			return
		}
		patch["timestamp"] = mustMarshal(formatTimestamp(t))
	}

	path := eventsPath(userID, params["medication_id"]) + "/" + params["event_id"]
	var event MedicationEvent
	if err := b.readDocument(r, path, "event", &event); err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.store.Update(r.Context(), path, patch); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	if err := b.readDocument(r, path, "event", &event); err != nil {
		writeError(w, r, err)
		return
	}
	payload, _ := json.Marshal(event)
	b.notify("medication_event", core.OperationUpdate, payload)
	writeJSON(w, http.StatusOK, event)
}

func (b *Backend) deleteEventWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	path := eventsPath(userID, params["medication_id"]) + "/" + params["event_id"]
	if err := b.store.Delete(r.Context(), path); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"user_id":       userID,
		"medication_id": params["medication_id"],
		"event_id":      params["event_id"],
	})
	b.notify("medication_event", core.OperationDelete, payload)
	w.WriteHeader(http.StatusNoContent)
}
