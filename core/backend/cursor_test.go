package backend

import (
	"testing"
)

func TestTokenRoundtrip(t *testing.T) {
	fields := []string{"8a9f0c1e-ab3d-4b2f-9c1a-0d5e6f7a8b9c", "2024-01-02T20:00:00.000001"}

	encoded := encodeToken(fields, scheduledTokenDelimiter)
	if encoded == "" {
		t.Fatal("expected non-empty token")
	}

	decoded, err := decodeToken(encoded, scheduledTokenDelimiter, 2)
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0] != fields[0] || decoded[1] != fields[1] {
		t.Fatalf("roundtrip mismatch: %v", decoded)
	}
}

func TestTokenEmpty(t *testing.T) {
	if encodeToken(nil, scheduledTokenDelimiter) != "" {
		t.Fatal("empty field list must encode to empty token")
	}

	decoded, err := decodeToken("", scheduledTokenDelimiter, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[0] != "" || decoded[1] != "" {
		t.Fatalf("empty token must decode to empty fields, got %v", decoded)
	}
}

func TestTokenInvalidFormats(t *testing.T) {
	testCases := []string{
		"%%not-base64%%",
		encodeToken([]string{"only-one-field"}, scheduledTokenDelimiter),
		encodeToken([]string{"a", "b", "c"}, scheduledTokenDelimiter),
		// token of the other endpoint, different delimiter
		encodeToken([]string{"a", "b"}, eventTokenDelimiter),
	}

	for _, tc := range testCases {
		if _, err := decodeToken(tc, scheduledTokenDelimiter, 2); err == nil {
			t.Errorf("expected error for token %q", tc)
		}
	}
}
