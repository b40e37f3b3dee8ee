// Package hrquery is the data-access layer of an HR web product: a typed
// HTTP client with a bounded retry policy, a keyed query cache and a
// mutation runner that refreshes the reads it affects.
//
//   - Client.Send issues one request and normalizes the outcome into an
//     Envelope holding either Data or an *APIError, never both.
//   - Client.Do adds linear-backoff retries for idempotent requests that
//     failed at network level or with a 5xx status.
//   - QueryCache shares one in-flight fetch between every reader of a Key
//     and notifies subscribers of idle, loading, success and error states.
//   - Mutation runs a write once and invalidates dependent cache entries
//     before returning.
//
// Typical usage:
//
//	client := hrquery.New(
//	    hrquery.WithBaseURL("https://hr.example.com/api"),
//	    hrquery.WithLogger(logger),
//	)
//	cache := hrquery.NewQueryCache()
//
//	d := hrquery.Get("/employee/all", nil)
//	fetch, _ := client.Fetcher(d)
//	env, _ := cache.Fetch(ctx, hrquery.NewKey("employees", nil), fetch)
//
//	update := hrquery.NewMutation(client, cache,
//	    hrquery.SendAs[Employee](http.MethodPut, "/employee/update"),
//	    hrquery.Invalidates(hrquery.Endpoint("employees")),
//	)
//	env, err := update.MutateAsync(ctx, employee)
//
// Runtime failures never surface as Go errors: they are carried in the
// Envelope. A non-nil error means the call itself was malformed.
package hrquery
