// Package source fetches the rows a job ingests.
//
// Supported types:
//   - json: GET a JSON document; a JSONPath selects the items and one
//     JSONPath per column extracts the values
//   - html: GET a page, take the text of a <script> (or any CSS
//     selector), strip a prefix/suffix and continue as json
//   - prometheus: GET a text exposition; each sample of one metric family
//     becomes a record (metric, labels..., value)
//   - csv: read a local file or URL with a header row
//
// All HTTP sources share one client per source with the configured auth
// (apikey | bearer | basic | mtls | none) injected by a RoundTripper. A fetch
// is a single attempt.
package source
