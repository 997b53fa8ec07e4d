package backend

import (
	"embed"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/access"
	"github.com/caredose/caredose/core/docstore"
	"github.com/caredose/caredose/core/logger"
	"github.com/caredose/caredose/core/schema"
)

//go:embed *.json refs
var schemaFS embed.FS

// Backend is the medication reminder rest backend
type Backend struct {
	store                docstore.Store
	router               *mux.Router
	notifier             core.Notifier
	schemas              *schema.Validator
	authorizationEnabled bool
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Store is the hierarchical document store. This is mandatory.
	Store docstore.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives create/update/delete notifications for resources.
	// This is optional.
	Notifier core.Notifier
	// AuthorizationEnabled enforces that the authenticated subject matches
	// the user_id in the request path (admins bypass). Disable only for
	// testing.
	AuthorizationEnabled bool
}

// New realizes the actual backend and adds all routes to the router
func New(bb *Builder) *Backend {

	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	validator, err := schema.NewValidatorFromFS(schemaFS)
	if err != nil {
		panic(err)
	}

	b := &Backend{
		store:                bb.Store,
		router:               bb.Router,
		notifier:             bb.Notifier,
		schemas:              validator,
		authorizationEnabled: bb.AuthorizationEnabled,
	}

	access.HandleAuthorizationRoute(b.router)
	b.handleCORS()
	b.handleRoutes(b.router)
	return b
}

func (b *Backend) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("backend: handle routes")
	b.handleVersion(router)
	b.handleHealth(router)
	b.handleUsers(router)
	b.handleDependants(router)
	// the static /medications/scheduled route must be registered before the
	// /medications/{medication_id} routes, mux matches in order
	b.handleScheduled(router)
	b.handleMedications(router)
	b.handleEvents(router)
}

// document store paths

const usersPath = "users"

func userPath(userID string) string {
	return usersPath + "/" + userID
}

func dependantsPath(userID string) string {
	return userPath(userID) + "/dependants"
}

func medicationsPath(userID string) string {
	return userPath(userID) + "/medications"
}

func eventsPath(userID, medicationID string) string {
	return medicationsPath(userID) + "/" + medicationID + "/events"
}

// authorize checks that the authenticated subject may act for userID. It
// writes the error response itself and returns false if not.
func (b *Backend) authorize(w http.ResponseWriter, r *http.Request, userID string) bool {
	if !b.authorizationEnabled {
		return true
	}
	auth := access.AuthorizationFromContext(r.Context())
	if !auth.MayActFor(userID) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// authorizeAdmin checks that the authenticated subject has the admin role.
func (b *Backend) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !b.authorizationEnabled {
		return true
	}
	auth := access.AuthorizationFromContext(r.Context())
	if !auth.HasRole("admin") {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// notify sends a notification if a notifier was configured
func (b *Backend) notify(resource string, operation core.Operation, payload []byte) {
	if b.notifier != nil {
		b.notifier.Notify(resource, operation, payload)
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, document interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	data, _ := json.Marshal(document)
	w.Write(data)
}

// readDocument reads the object at path and unmarshals it into out. A
// missing object is a not-found error named after kind.
func (b *Backend) readDocument(r *http.Request, path, kind string, out interface{}) error {
	doc, err := b.store.Get(r.Context(), path)
	if err != nil {
		return backendFailureError(err)
	}
	if doc == nil {
		return notFoundError("no such %s", kind)
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return dataIntegrityError("cannot decode %s at '%s': %s", kind, path, err)
	}
	return nil
}

// schema identifiers of the embedded request body schemas
const (
	userSchemaID       = "https://caredose.com/schemas/user.json"
	dependantSchemaID  = "https://caredose.com/schemas/dependant.json"
	medicationSchemaID = "https://caredose.com/schemas/medication.json"
	eventSchemaID      = "https://caredose.com/schemas/medication_event.json"
)

// readBody reads the request body, limited to 1MB.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		return nil, invalidRequestError("cannot read request body: %s", err)
	}
	if len(body) == 0 {
		return nil, invalidRequestError("request body is empty")
	}
	return body, nil
}

// readBodyFields reads the request body as a JSON object.
func readBodyFields(r *http.Request) (map[string]json.RawMessage, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, invalidRequestError("request body is not a JSON object: %s", err)
	}
	return fields, nil
}

func mustMarshal(value interface{}) json.RawMessage {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return data
}

func pageCount(totalCount, limit int) int {
	if totalCount == 0 {
		return 0
	}
	return ((totalCount - 1) / limit) + 1
}

// requireUser fails with a not-found error if the user has no record.
func (b *Backend) requireUser(r *http.Request, userID string) error {
	doc, err := b.store.Get(r.Context(), userPath(userID))
	if err != nil {
		return backendFailureError(err)
	}
	if doc == nil {
		return notFoundError("no such user '%s'", userID)
	}
	return nil
}
