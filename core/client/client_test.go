package client

import (
	"net/http"
	"os"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/caredose/caredose/core/access"
)

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}

func testRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		subject := ""
		if auth != nil {
			subject = auth.Subject
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		data, _ := json.Marshal(map[string]string{
			"method":  r.Method,
			"subject": subject,
			"value":   body["value"],
		})
		status := http.StatusOK
		if r.Method == http.MethodPost {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		w.Write(data)
	}).Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch)
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	return router
}

func TestClientVerbs(t *testing.T) {
	client := NewWithRouter(testRouter())

	var result map[string]string
	status, err := client.RawGet("/echo", &result)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK || result["method"] != http.MethodGet {
		t.Fatal("unexpected GET result:", status, result)
	}

	status, err = client.RawPost("/echo", map[string]string{"value": "42"}, &result)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated || result["value"] != "42" {
		t.Fatal("unexpected POST result:", status, result)
	}

	if _, err := client.RawPut("/echo", map[string]string{}, &result); err != nil {
		t.Fatal(err)
	}
	if result["method"] != http.MethodPut {
		t.Fatal("unexpected PUT result:", result)
	}

	if _, err := client.RawPatch("/echo", map[string]string{}, &result); err != nil {
		t.Fatal(err)
	}
	if result["method"] != http.MethodPatch {
		t.Fatal("unexpected PATCH result:", result)
	}

	status, err = client.RawDelete("/echo")
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusNoContent {
		t.Fatal("unexpected DELETE status:", status)
	}
}

func TestClientAuthorizationContext(t *testing.T) {
	client := NewWithRouter(testRouter()).WithIdentity("u1")

	var result map[string]string
	if _, err := client.RawGet("/echo", &result); err != nil {
		t.Fatal(err)
	}
	if result["subject"] != "u1" {
		t.Fatal("identity did not reach the handler:", result)
	}

	// errors carry the response body
	if _, err := client.RawGet("/nowhere", nil); err == nil {
		t.Fatal("expected an error for an unknown route")
	}
}
