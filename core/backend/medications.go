// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/logger"
	"github.com/caredose/caredose/core/schedule"
)

func (b *Backend) handleMedications(router *mux.Router) {
	logger.Default().Debugln("  handle medications routes: /users/{user_id}/medications POST GET")
	logger.Default().Debugln("  handle medications routes: /users/{user_id}/medications/{medication_id} GET PATCH DELETE")

	router.HandleFunc("/users/{user_id}/medications", func(w http.ResponseWriter, r *http.Request) {
		b.createMedicationWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/users/{user_id}/medications", func(w http.ResponseWriter, r *http.Request) {
		b.listMedicationsWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}/medications/{medication_id}", func(w http.ResponseWriter, r *http.Request) {
		b.getMedicationWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}/medications/{medication_id}", func(w http.ResponseWriter, r *http.Request) {
		b.patchMedicationWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)

	router.HandleFunc("/users/{user_id}/medications/{medication_id}", func(w http.ResponseWriter, r *http.Request) {
		b.deleteMedicationWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

// normalizedSchedule runs a request-supplied schedule block through the
// schedule type: partial blocks get their defaults, a block without any
// schedule key means no schedule at all. The returned schedule is either nil
// or fully populated, and its cron syntax has been checked.
func normalizedSchedule(raw json.RawMessage) (*schedule.Schedule, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}
	fields := map[string]string{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalidRequestError("schedule is not an object of cron fields: %s", err)
	}
	s := schedule.FromMap(fields)
	if s == nil {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, invalidRequestError("invalid schedule: %s", err)
	}
	return s, nil
}

func (b *Backend) createMedicationWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.schemas.ValidateBytes(body, medicationSchemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var medication Medication
	if err := json.Unmarshal(body, &medication); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// re-derive the schedule from the raw body, a partial block must get
	// defaults rather than empty fields
	fields := map[string]json.RawMessage{}
	json.Unmarshal(body, &fields)
	medication.Schedule, err = normalizedSchedule(fields["schedule"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := b.requireUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	medication.MedicationID, err = b.store.Push(r.Context(), medicationsPath(userID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	path := medicationsPath(userID) + "/" + medication.MedicationID
	if err := b.store.Set(r.Context(), path, &medication); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	payload, _ := json.Marshal(medication)
	b.notify("medication", core.OperationCreate, payload)
	writeJSON(w, http.StatusCreated, medication)
}

func (b *Backend) listMedicationsWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	var (
		limit = 100
		page  = 1
		err   error
	)
	urlQuery := r.URL.Query()
	for key, array := range urlQuery {
		if len(array) > 1 {
			http.Error(w, "illegal parameter array '"+key+"'", http.StatusBadRequest)
			return
		}
		value := array[0]
		switch key {
		case "limit":
			limit, err = strconv.Atoi(value)
			if err == nil && (limit < 1 || limit > 100) {
				err = strconv.ErrRange
			}
		case "page":
			page, err = strconv.Atoi(value)
			if err == nil && page < 1 {
				err = strconv.ErrRange
			}
		default:
			http.Error(w, "parameter '"+key+"': unknown query parameter", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "parameter '"+key+"': "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := b.requireUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := b.store.Get(r.Context(), medicationsPath(userID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	records := map[string]json.RawMessage{}
	if doc != nil {
		if err := json.Unmarshal(doc, &records); err != nil {
			writeError(w, r, dataIntegrityError("medications of user '%s' are not a collection: %s", userID, err))
			return
		}
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	medications := []Medication{}
	for _, id := range ids {
		var medication Medication
		if err := json.Unmarshal(records[id], &medication); err != nil {
			writeError(w, r, dataIntegrityError("cannot decode medication '%s': %s", id, err))
			return
		}
		medications = append(medications, medication)
	}

	totalCount := len(medications)
	from := (page - 1) * limit
	if from > totalCount {
		from = totalCount
	}
	to := from + limit
	if to > totalCount {
		to = totalCount
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Pagination-Limit", strconv.Itoa(limit))
	w.Header().Set("Pagination-Total-Count", strconv.Itoa(totalCount))
	w.Header().Set("Pagination-Page-Count", strconv.Itoa(pageCount(totalCount, limit)))
	w.Header().Set("Pagination-Current-Page", strconv.Itoa(page))
	data, _ := json.Marshal(medications[from:to])
	w.Write(data)
}

func (b *Backend) getMedicationWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	path := medicationsPath(userID) + "/" + params["medication_id"]
	var medication Medication
	if err := b.readDocument(r, path, "medication", &medication); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, medication)
}

func (b *Backend) patchMedicationWithAuth(w http.ResponseWriter, r *http.Request) {
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
	patch, err := whitelistedPatch(fields, medicationPatchKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if raw, ok := patch["schedule"]; ok {
		normalized, err := normalizedSchedule(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if normalized == nil {
			patch["schedule"] = json.RawMessage("null")
		} else {
			patch["schedule"] = mustMarshal(normalized)
		}
	}

	path := medicationsPath(userID) + "/" + params["medication_id"]
	var medication Medication
	if err := b.readDocument(r, path, "medication", &medication); err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.store.Update(r.Context(), path, patch); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	if err := b.readDocument(r, path, "medication", &medication); err != nil {
		writeError(w, r, err)
		return
	}
	payload, _ := json.Marshal(medication)
	b.notify("medication", core.OperationUpdate, payload)
	writeJSON(w, http.StatusOK, medication)
}

func (b *Backend) deleteMedicationWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	path := medicationsPath(userID) + "/" + params["medication_id"]
	if err := b.store.Delete(r.Context(), path); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	payload, _ := json.Marshal(map[string]string{"user_id": userID, "medication_id": params["medication_id"]})
	b.notify("medication", core.OperationDelete, payload)
	w.WriteHeader(http.StatusNoContent)
}
