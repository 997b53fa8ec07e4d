package backend

import (
	"net/http"
	"sort"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/logger"
)

func (b *Backend) handleDependants(router *mux.Router) {
	logger.Default().Debugln("  handle dependants routes: /users/{user_id}/dependants POST GET")
	logger.Default().Debugln("  handle dependants routes: /users/{user_id}/dependants/{dependant_id} GET PATCH DELETE")

	router.HandleFunc("/users/{user_id}/dependants", func(w http.ResponseWriter, r *http.Request) {
		b.createDependantWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/users/{user_id}/dependants", func(w http.ResponseWriter, r *http.Request) {
		b.listDependantsWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}/dependants/{dependant_id}", func(w http.ResponseWriter, r *http.Request) {
		b.getDependantWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}/dependants/{dependant_id}", func(w http.ResponseWriter, r *http.Request) {
		b.patchDependantWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)

	router.HandleFunc("/users/{user_id}/dependants/{dependant_id}", func(w http.ResponseWriter, r *http.Request) {
		b.deleteDependantWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

func (b *Backend) createDependantWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.schemas.ValidateBytes(body, dependantSchemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var dependant Dependant
	if err := json.Unmarshal(body, &dependant); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := b.requireUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	dependant.DependantID, err = b.store.Push(r.Context(), dependantsPath(userID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	path := dependantsPath(userID) + "/" + dependant.DependantID
	if err := b.store.Set(r.Context(), path, &dependant); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	payload, _ := json.Marshal(dependant)
	b.notify("dependant", core.OperationCreate, payload)
	writeJSON(w, http.StatusCreated, dependant)
}

func (b *Backend) listDependantsWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	if err := b.requireUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := b.store.Get(r.Context(), dependantsPath(userID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	records := map[string]json.RawMessage{}
	if doc != nil {
		if err := json.Unmarshal(doc, &records); err != nil {
			writeError(w, r, dataIntegrityError("dependants of user '%s' are not a collection: %s", userID, err))
			return
		}
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	dependants := []Dependant{}
	for _, id := range ids {
		var dependant Dependant
		if err := json.Unmarshal(records[id], &dependant); err != nil {
			writeError(w, r, dataIntegrityError("cannot decode dependant '%s': %s", id, err))
			return
		}
		dependants = append(dependants, dependant)
	}
	writeJSON(w, http.StatusOK, dependants)
}

func (b *Backend) getDependantWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	path := dependantsPath(userID) + "/" + params["dependant_id"]
	var dependant Dependant
	if err := b.readDocument(r, path, "dependant", &dependant); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dependant)
}

func (b *Backend) patchDependantWithAuth(w http.ResponseWriter, r *http.Request) {
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
	patch, err := whitelistedPatch(fields, dependantPatchKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}

	path := dependantsPath(userID) + "/" + params["dependant_id"]
	var dependant Dependant
	if err := b.readDocument(r, path, "dependant", &dependant); err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.store.Update(r.Context(), path, patch); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	doc, err := b.store.Get(r.Context(), path)
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	b.notify("dependant", core.OperationUpdate, doc)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(doc)
}

func (b *Backend) deleteDependantWithAuth(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	userID := params["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	path := dependantsPath(userID) + "/" + params["dependant_id"]
	if err := b.store.Delete(r.Context(), path); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	payload, _ := json.Marshal(map[string]string{"user_id": userID, "dependant_id": params["dependant_id"]})
	b.notify("dependant", core.OperationDelete, payload)
	w.WriteHeader(http.StatusNoContent)
}
