package backend

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/access"
	"github.com/caredose/caredose/core/logger"
)

func (b *Backend) handleUsers(router *mux.Router) {
	logger.Default().Debugln("  handle users routes: /users POST GET")
	logger.Default().Debugln("  handle users routes: /users/{user_id} GET PUT PATCH DELETE")

	router.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		b.createUserWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		b.listUsersWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		b.getUserWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		b.putUserWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		b.patchUserWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)

	router.HandleFunc("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		b.deleteUserWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

// createUserWithAuth registers the authenticated subject as a user. The
// user identifier is the verified subject; a request may only carry its own
// user_id when authorization is disabled.
func (b *Backend) createUserWithAuth(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.schemas.ValidateBytes(body, userSchemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	identity := access.IdentityFromContext(r.Context())
	if identity != "" {
		user.UserID = identity
	}
	if user.UserID == "" {
		http.Error(w, "cannot determine user identity", http.StatusBadRequest)
		return
	}

	existing, err := b.store.Get(r.Context(), userPath(user.UserID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	if existing != nil {
		http.Error(w, "user already exists", http.StatusConflict)
		return
	}

	if err := b.store.Set(r.Context(), userPath(user.UserID), &user); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	rlog.Infoln("created user", user.UserID)
	payload, _ := json.Marshal(user)
	b.notify("user", core.OperationCreate, payload)
	writeJSON(w, http.StatusCreated, user)
}

// listUsersWithAuth lists all users. Admin only. An optional name parameter
// filters on first or last name, case insensitive.
func (b *Backend) listUsersWithAuth(w http.ResponseWriter, r *http.Request) {
	if !b.authorizeAdmin(w, r) {
		return
	}

	var (
		limit      = 100
		page       = 1
		nameFilter string
		err        error
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
		case "name":
			nameFilter = strings.ToLower(value)
		default:
			http.Error(w, "parameter '"+key+"': unknown query parameter", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "parameter '"+key+"': "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	doc, err := b.store.Get(r.Context(), usersPath)
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	records := map[string]json.RawMessage{}
	if doc != nil {
		if err := json.Unmarshal(doc, &records); err != nil {
			writeError(w, r, dataIntegrityError("user collection is not a collection: %s", err))
			return
		}
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	users := []User{}
	for _, id := range ids {
		var user User
		if err := json.Unmarshal(records[id], &user); err != nil {
			writeError(w, r, dataIntegrityError("cannot decode user '%s': %s", id, err))
			return
		}
		if nameFilter != "" &&
			!strings.Contains(strings.ToLower(user.FirstName), nameFilter) &&
			!strings.Contains(strings.ToLower(user.LastName), nameFilter) {
			continue
		}
		users = append(users, user)
	}

	totalCount := len(users)
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
	data, _ := json.Marshal(users[from:to])
	w.Write(data)
}

func (b *Backend) getUserWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	doc, err := b.store.Get(r.Context(), userPath(userID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	if doc == nil {
		http.Error(w, "no such user", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(doc)
}

// putUserWithAuth replaces the user's profile attributes. Children below the
// user document, the medications and dependants, are not touched.
func (b *Backend) putUserWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.schemas.ValidateBytes(body, userSchemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user.UserID = userID

	if err := b.requireUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	// a full put replaces all profile attributes, absent optionals included
	patch := map[string]json.RawMessage{
		"user_id":    mustMarshal(user.UserID),
		"first_name": mustMarshal(user.FirstName),
		"last_name":  mustMarshal(user.LastName),
		"phone":      json.RawMessage("null"),
	}
	if user.Phone != "" {
		patch["phone"] = mustMarshal(user.Phone)
	}
	if err := b.store.Update(r.Context(), userPath(userID), patch); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	payload, _ := json.Marshal(user)
	b.notify("user", core.OperationUpdate, payload)
	writeJSON(w, http.StatusOK, user)
}

func (b *Backend) patchUserWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	fields, err := readBodyFields(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := whitelistedPatch(fields, userPatchKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := b.requireUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.store.Update(r.Context(), userPath(userID), patch); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}

	doc, err := b.store.Get(r.Context(), userPath(userID))
	if err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	b.notify("user", core.OperationUpdate, doc)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(doc)
}

func (b *Backend) deleteUserWithAuth(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if !b.authorize(w, r, userID) {
		return
	}

	if err := b.store.Delete(r.Context(), userPath(userID)); err != nil {
		writeError(w, r, backendFailureError(err))
		return
	}
	payload, _ := json.Marshal(map[string]string{"user_id": userID})
	b.notify("user", core.OperationDelete, payload)
	w.WriteHeader(http.StatusNoContent)
}
