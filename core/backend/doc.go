// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package backend is the REST backend of the medication reminder service.

It stores users, their dependants, their medications and the medication
events (doses taken) in a hierarchical document store, and answers the
scheduled-occurrences query: which doses are due for a user within a given
time range, paginated with an opaque resumption token.

The backend maps its typed errors to HTTP status codes only at the handler
boundary; the query and storage logic below the handlers returns errors from
the taxonomy in errors.go and never writes HTTP itself.
*/
package backend
