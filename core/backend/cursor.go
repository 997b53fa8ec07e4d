// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"encoding/base64"
	"strings"
)

// Pagination tokens are ordered string fields joined by a delimiter and
// base64-encoded. Each paginated endpoint uses its own delimiter, so a token
// from one endpoint never decodes as a valid token of another.
//
// The fields themselves must not contain the delimiter. Object identifiers
// come from the document store's key generator and are delimiter-safe by
// construction; timestamps are ISO-8601 and contain neither delimiter.
const (
	scheduledTokenDelimiter = "#"
	eventTokenDelimiter     = "~"
)

// encodeToken joins the fields with the delimiter and encodes the result as
// an opaque URL-safe string. It returns "" for an empty field list.
func encodeToken(fields []string, delimiter string) string {
	if len(fields) == 0 || delimiter == "" {
		return ""
	}
	joined := strings.Join(fields, delimiter)
	return base64.URLEncoding.EncodeToString([]byte(joined))
}

// decodeToken decodes a pagination token back into its fields. An empty
// token yields arity empty fields, so call sites can destructure uniformly
// whether or not the caller is resuming. A token that does not decode, or
// that decodes to the wrong number of fields, is a caller error.
func decodeToken(token string, delimiter string, arity int) ([]string, error) {
	if token == "" {
		return make([]string, arity), nil
	}
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalidRequestError("malformed pagination token")
	}
	fields := strings.Split(string(decoded), delimiter)
	if len(fields) != arity {
		return nil, invalidRequestError("malformed pagination token")
	}
	return fields, nil
}
