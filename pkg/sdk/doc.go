/*
Package sdk provides the tinydigest client library for recording latency
and size distributions in Go applications.

Values are summarized in-process into t-digests. Every flush ships one
digest per series to the server's /v1/ingest/digests endpoint, where
digests from many processes and many flushes are merged at query time.
Raw values never leave the process.

# Quick Start

	client, err := sdk.New(sdk.ClientConfig{
	    Service:  "my-app",
	    Endpoint: "http://localhost:8080/v1/ingest/digests",
	})
	if err != nil {
	    log.Fatal(err)
	}

	client.Start(context.Background())
	defer client.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/", homeHandler)
	http.ListenAndServe(":8000", httpx.Middleware(client)(mux))

This records http_request_duration_seconds and http_response_size_bytes
by method, normalized path and status, plus Go runtime summaries.

# Summaries

A summary keeps one digest per label set:

	latency := client.Summary("db_query_seconds")
	latency.Observe(0.012, "table", "users", "op", "select")

Labels are key/value pairs. Observations are buffered and folded into the
digest in sorted batches, so Observe is cheap. Collect (called on every
flush) returns the digests and resets the summary.

# Cardinality Warning

Every distinct label set is a separate series on the server, which caps
unique series per name. Never use user IDs, request IDs or raw URLs as
label values; the HTTP middleware replaces numeric and UUID path segments
with {id} for this reason.

# Batching & Flushing

Digests are queued in a batcher and posted in batches of up to 500 points,
every FlushEvery (default 10s) or when a batch fills. When the server is
unreachable the queue is bounded; points beyond 20 pending batches are
dropped and counted in Client.Stats.

Stop collects one last time and flushes everything still queued, even if
the context passed to Start was already cancelled.

# Runtime Summaries

Unless DisableRuntime is set, the client samples the Go runtime every
second into go_gc_pause_seconds, go_memstats_heap_alloc_bytes and
go_goroutines.

# Custom Collectors

Anything implementing metrics.DigestCollector can be registered:

	client.Register(myCollector)

# Error Handling

Send failures are logged through ClientConfig.Logger (a *zap.Logger) and
counted; the failed batch is not retried. A rejected batch surfaces as a
*transport.StatusError carrying the server's message.
*/
package sdk
