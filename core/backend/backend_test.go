package backend

import (
	"net/http"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/access"
	"github.com/caredose/caredose/core/client"
	"github.com/caredose/caredose/core/docstore"
)

type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []string
}

func (n *recordingNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.notifications = append(n.notifications, resource+":"+string(operation))
}

func (n *recordingNotifier) has(notification string) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for _, got := range n.notifications {
		if got == notification {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (client.Client, *recordingNotifier) {
	t.Helper()
	router := mux.NewRouter()
	notifier := &recordingNotifier{}
	New(&Builder{
		Store:                docstore.NewMemory(),
		Router:               router,
		Notifier:             notifier,
		AuthorizationEnabled: true,
	})
	return client.NewWithRouter(router), notifier
}

func TestUserLifecycle(t *testing.T) {
	cl, notifier := newTestService(t)
	u1 := cl.WithIdentity("u1")

	var user User
	status, err := u1.RawPost("/users", &User{FirstName: "Ada", LastName: "Lovelace"}, &user)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "u1", user.UserID)
	assert.True(t, notifier.has("user:create"))

	// registering twice is a conflict
	status, _ = u1.RawPost("/users", &User{FirstName: "Ada", LastName: "Lovelace"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, err = u1.RawGet("/users/u1", &user)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)

	// another user must not see u1
	u2 := cl.WithIdentity("u2")
	status, _ = u2.RawGet("/users/u1", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// an admin may
	admin := cl.WithAdminAuthorization()
	status, err = admin.RawGet("/users/u1", &user)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, err = u1.RawPatch("/users/u1", map[string]string{"phone": "555-0100"}, &user)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", user.Phone)
	assert.Equal(t, "Ada", user.FirstName)

	// a patch that touches nothing updatable is rejected
	status, _ = u1.RawPatch("/users/u1", map[string]string{"shoe_size": "38"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, err = u1.RawDelete("/users/u1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = u1.RawGet("/users/u1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUserValidation(t *testing.T) {
	cl, _ := newTestService(t)
	u1 := cl.WithIdentity("u1")

	// last_name is mandatory
	status, _ := u1.RawPost("/users", map[string]string{"first_name": "Ada"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// unknown attributes are rejected
	status, _ = u1.RawPost("/users", map[string]string{
		"first_name": "Ada", "last_name": "Lovelace", "favourite_color": "green",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUserList(t *testing.T) {
	cl, _ := newTestService(t)
	admin := cl.WithAdminAuthorization()

	for _, u := range []User{
		{UserID: "u1", FirstName: "Ada", LastName: "Lovelace"},
		{UserID: "u2", FirstName: "Grace", LastName: "Hopper"},
		{UserID: "u3", FirstName: "Radia", LastName: "Perlman"},
	} {
		_, err := cl.WithIdentity(u.UserID).RawPost("/users", &u, nil)
		require.NoError(t, err)
	}

	// listing is admin only
	status, _ := cl.WithIdentity("u1").RawGet("/users", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var users []User
	_, err := admin.RawGet("/users", &users)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "u1", users[0].UserID)

	users = nil
	_, err = admin.RawGet("/users?name=hopper", &users)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u2", users[0].UserID)

	users = nil
	status, header, err := admin.RawGetWithHeader("/users?limit=2&page=2", nil, &users)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, users, 1)
	assert.Equal(t, "3", header.Get("Pagination-Total-Count"))
	assert.Equal(t, "2", header.Get("Pagination-Page-Count"))
}

func TestDependants(t *testing.T) {
	cl, _ := newTestService(t)
	u1 := cl.WithIdentity("u1")
	_, err := u1.RawPost("/users", &User{FirstName: "Ada", LastName: "Lovelace"}, nil)
	require.NoError(t, err)

	var dependant Dependant
	status, err := u1.RawPost("/users/u1/dependants",
		&Dependant{FirstName: "Byron", LastName: "Lovelace"}, &dependant)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, dependant.DependantID)

	var dependants []Dependant
	_, err = u1.RawGet("/users/u1/dependants", &dependants)
	require.NoError(t, err)
	require.Len(t, dependants, 1)

	_, err = u1.RawPatch("/users/u1/dependants/"+dependant.DependantID,
		map[string]string{"phone": "555-0199"}, &dependant)
	require.NoError(t, err)
	assert.Equal(t, "555-0199", dependant.Phone)
	assert.Equal(t, "Byron", dependant.FirstName)

	status, err = u1.RawDelete("/users/u1/dependants/" + dependant.DependantID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = u1.RawGet("/users/u1/dependants/"+dependant.DependantID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMedications(t *testing.T) {
	cl, notifier := newTestService(t)
	u1 := cl.WithIdentity("u1")
	_, err := u1.RawPost("/users", &User{FirstName: "Ada", LastName: "Lovelace"}, nil)
	require.NoError(t, err)

	// a partial schedule block gets its defaults
	var medication Medication
	status, err := u1.RawPost("/users/u1/medications", map[string]interface{}{
		"name":     "Aspirin",
		"dosage":   "100mg",
		"schedule": map[string]string{"hour": "8"},
	}, &medication)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, medication.Schedule)
	assert.Equal(t, "0 8 * * *", medication.Schedule.CronSpec())
	assert.True(t, notifier.has("medication:create"))

	// no schedule at all stays absent
	var unscheduled Medication
	_, err = u1.RawPost("/users/u1/medications", map[string]interface{}{"name": "Ibuprofen"}, &unscheduled)
	require.NoError(t, err)
	assert.Nil(t, unscheduled.Schedule)

	// invalid cron syntax is rejected
	status, _ = u1.RawPost("/users/u1/medications", map[string]interface{}{
		"name":     "Bad",
		"schedule": map[string]string{"minute": "61"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var medications []Medication
	_, err = u1.RawGet("/users/u1/medications", &medications)
	require.NoError(t, err)
	assert.Len(t, medications, 2)

	_, err = u1.RawPatch("/users/u1/medications/"+medication.MedicationID,
		map[string]interface{}{"schedule": map[string]string{"hour": "20"}}, &medication)
	require.NoError(t, err)
	require.NotNil(t, medication.Schedule)
	assert.Equal(t, "0 20 * * *", medication.Schedule.CronSpec())

	status, err = u1.RawDelete("/users/u1/medications/" + medication.MedicationID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestMedicationEvents(t *testing.T) {
	cl, notifier := newTestService(t)
	u1 := cl.WithIdentity("u1")
	_, err := u1.RawPost("/users", &User{FirstName: "Ada", LastName: "Lovelace"}, nil)
	require.NoError(t, err)

	var medication Medication
	_, err = u1.RawPost("/users/u1/medications", map[string]interface{}{"name": "Aspirin"}, &medication)
	require.NoError(t, err)
	base := "/users/u1/medications/" + medication.MedicationID + "/events"

	timestamps := []string{
		"2024-01-03T08:00:00",
		"2024-01-01T08:00:00",
		"2024-01-02T08:00:00",
		"2024-01-04T08:00:00",
	}
	for _, ts := range timestamps {
		var event MedicationEvent
		status, err := u1.RawPost(base, &MedicationEvent{Timestamp: ts, Dosage: "100mg"}, &event)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, status)
		require.NotEmpty(t, event.EventID)
	}
	assert.True(t, notifier.has("medication_event:create"))

	// a timestamp is mandatory
	status, _ := u1.RawPost(base, &MedicationEvent{Dosage: "100mg"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// list within a range, paged
	type page struct {
		Data      []MedicationEvent `json:"data"`
		NextToken *string           `json:"next_token"`
	}
	var first page
	_, err = u1.RawGet(base+"?start_at=2024-01-01T00:00:00&end_at=2024-01-04T00:00:00&limit=2", &first)
	require.NoError(t, err)
	require.Len(t, first.Data, 2)
	assert.Equal(t, "2024-01-01T08:00:00", first.Data[0].Timestamp)
	assert.Equal(t, "2024-01-02T08:00:00", first.Data[1].Timestamp)
	require.NotNil(t, first.NextToken)

	var second page
	_, err = u1.RawGet(base+"?start_at=2024-01-01T00:00:00&end_at=2024-01-04T00:00:00&limit=2&next_token="+*first.NextToken, &second)
	require.NoError(t, err)
	require.Len(t, second.Data, 1)
	assert.Equal(t, "2024-01-03T08:00:00", second.Data[0].Timestamp)
	assert.Nil(t, second.NextToken)

	// patch and delete
	event := first.Data[0]
	_, err = u1.RawPatch(base+"/"+event.EventID, map[string]string{"dosage": "200mg"}, &event)
	require.NoError(t, err)
	assert.Equal(t, "200mg", event.Dosage)

	status, err = u1.RawDelete(base + "/" + event.EventID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestMedicationEventTimestampNormalization(t *testing.T) {
	cl, _ := newTestService(t)
	u1 := cl.WithIdentity("u1")
	_, err := u1.RawPost("/users", &User{FirstName: "Grace", LastName: "Hopper"}, nil)
	require.NoError(t, err)
	var medication Medication
	_, err = u1.RawPost("/users/u1/medications", map[string]interface{}{"name": "Aspirin"}, &medication)
	require.NoError(t, err)
	base := "/users/u1/medications/" + medication.MedicationID + "/events"

	// zoned timestamps are stored in canonical UTC form
	var event MedicationEvent
	_, err = u1.RawPost(base, &MedicationEvent{Timestamp: "2024-01-01T10:00:00+05:00", Dosage: "100mg"}, &event)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T05:00:00", event.Timestamp)

	_, err = u1.RawPost(base, &MedicationEvent{Timestamp: "2024-01-01T08:00:00Z", Dosage: "100mg"}, nil)
	require.NoError(t, err)

	// the list orders the two events by instant, not by the posted strings
	type page struct {
		Data []MedicationEvent `json:"data"`
	}
	var result page
	_, err = u1.RawGet(base, &result)
	require.NoError(t, err)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "2024-01-01T05:00:00", result.Data[0].Timestamp)
	assert.Equal(t, "2024-01-01T08:00:00", result.Data[1].Timestamp)

	// patched timestamps normalize the same way
	_, err = u1.RawPatch(base+"/"+event.EventID, map[string]string{"timestamp": "2024-01-02T09:30:00+02:00"}, &event)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T07:30:00", event.Timestamp)
}

func TestScheduledEndpoint(t *testing.T) {
	cl, _ := newTestService(t)
	u1 := cl.WithIdentity("u1")
	_, err := u1.RawPost("/users", &User{FirstName: "Ada", LastName: "Lovelace"}, nil)
	require.NoError(t, err)

	_, err = u1.RawPost("/users/u1/medications", map[string]interface{}{
		"name":     "Aspirin",
		"schedule": map[string]string{"hour": "8"},
	}, nil)
	require.NoError(t, err)

	type page struct {
		Data      []Occurrence `json:"data"`
		NextToken *string      `json:"next_token"`
	}
	var result page
	status, err := u1.RawGet("/users/u1/medications/scheduled?start_at=2024-01-01T00:00:00&end_at=2024-01-04T00:00:00", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, result.Data, 3)
	assert.Nil(t, result.NextToken)

	// mandatory range parameters
	status, _ = u1.RawGet("/users/u1/medications/scheduled", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// inverted range
	status, _ = u1.RawGet("/users/u1/medications/scheduled?start_at=2024-01-04T00:00:00&end_at=2024-01-01T00:00:00", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// unknown users are a 404
	admin := cl.WithAdminAuthorization()
	status, _ = admin.RawGet("/users/nobody/medications/scheduled?start_at=2024-01-01T00:00:00&end_at=2024-01-02T00:00:00", nil)
	assert.Equal(t, http.StatusNotFound, status)

	// foreign users may not query
	status, _ = cl.WithIdentity("u2").RawGet("/users/u1/medications/scheduled?start_at=2024-01-01T00:00:00&end_at=2024-01-02T00:00:00", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestVersionAndHealth(t *testing.T) {
	cl, _ := newTestService(t)

	// version is admin only
	status, _ := cl.WithIdentity("u1").RawGet("/version", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var version map[string]string
	_, err := cl.WithAdminAuthorization().RawGet("/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "unset", version["version"])

	var health map[string]string
	_, err = cl.RawGet("/health", &health)
	require.NoError(t, err)
	assert.Equal(t, "ok", health["status"])
}

func TestAuthorizationRoute(t *testing.T) {
	cl, _ := newTestService(t)

	var auth access.Authorization
	_, err := cl.WithIdentity("u1").RawGet("/authorization", &auth)
	require.NoError(t, err)
	assert.Equal(t, "u1", auth.Subject)
	assert.True(t, auth.HasRole("user"))
}
