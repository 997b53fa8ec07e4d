package schema_test

import (
	"testing"

	"github.com/caredose/caredose/core/schema"
)

const (
	scheduleRef = `{
	"$id": "https://caredose.com/schemas/refs/schedule.json",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"minute": { "type": "string" },
		"hour": { "type": "string" },
		"day_of_month": { "type": "string" },
		"month": { "type": "string" },
		"day_of_week": { "type": "string" }
	}
}`

	medicationSchema = `{
	"$id": "https://caredose.com/schemas/medication.json",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": { "type": "string", "minLength": 1 },
		"schedule": { "$ref": "https://caredose.com/schemas/refs/schedule.json" }
	}
}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{medicationSchema}, []string{scheduleRef})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	schemaID := "https://caredose.com/schemas/medication.json"

	// Valid json
	valid := `{"name":"Aspirin","schedule":{"minute":"0","hour":"8"}}`
	if err := v.ValidateString(valid, schemaID); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", valid, schemaID, err)
	}

	// Invalid json: name is required
	invalid := `{"schedule":{"minute":"0"}}`
	if err := v.ValidateString(invalid, schemaID); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s", invalid, schemaID)
	}

	// Invalid json: unknown schedule field
	invalid = `{"name":"Aspirin","schedule":{"minutes":"0"}}`
	if err := v.ValidateString(invalid, schemaID); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s", invalid, schemaID)
	}
}

func TestValidateStruct(t *testing.T) {
	type medication struct {
		Name string `json:"name"`
	}

	v, err := schema.NewValidator([]string{medicationSchema}, []string{scheduleRef})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	schemaID := "https://caredose.com/schemas/medication.json"

	if err := v.ValidateStruct(medication{"Ibuprofen"}, schemaID); err != nil {
		t.Fatalf("struct is expected to be valid: %v", err)
	}

	type notAMedication struct {
		Label string `json:"label"`
	}
	if err := v.ValidateStruct(notAMedication{"Ibuprofen"}, schemaID); err == nil {
		t.Fatal("struct without name is expected to be invalid")
	}
}

func TestHasSchema(t *testing.T) {
	v, err := schema.NewValidator([]string{medicationSchema}, []string{scheduleRef})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	schemaID := "https://caredose.com/schemas/medication.json"
	if !v.HasSchema(schemaID) {
		t.Fatalf("%s schemaID is expected to be available", schemaID)
	}

	schemaID = "https://caredose.com/schemas/unknown.json"
	if v.HasSchema(schemaID) {
		t.Fatalf("%s schemaID is not expected to be available", schemaID)
	}
}
