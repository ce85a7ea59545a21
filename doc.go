// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

/*
Package tailwindpool supervises a pool of long-lived Tailwind CSS CLI
subprocesses and compiles CSS through them without paying per-request
process startup cost.

# Overview

Each distinct, version-filtered set of CLI options fingerprints to one
worker. Requests that share a fingerprint reuse the same subprocess and are
serialized against it; requests with different fingerprints run on
separate workers, up to the pool's configured maximum size. A worker that
sits idle past a configurable threshold is evicted to free its slot.

# Basic usage

	pool, err := tailwindpool.New("/usr/local/bin/tailwindcss",
		tailwindpool.WithCLIVersion("v4.0.0"),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close(context.Background())

	result, err := pool.Compile(ctx, tailwindpool.Request{
		Options: tailwindpool.Options{
			tailwindpool.OptionInputPath: "src/input.css",
		},
		Content:  []byte("@tailwind utilities;"),
		Deadline: time.Now().Add(15 * time.Second),
	})

# Output capture

A request's compiled CSS is captured via four tiers, attempted in order
until one yields a non-empty result: an in-memory delivery from the
worker's own stdout parsing, a read of the CLI's on-disk output file, the
worker's last preserved output, and, as a last resort, forced regeneration
on a freshly provisioned worker. Returning empty from all four tiers is
reported as an empty_output error.

# Batching and warm-up

BatchCompile runs many requests at once: same-fingerprint requests are
serialized onto one worker, and distinct fingerprint groups run
concurrently, subject to the pool's max size. WarmUp provisions workers
ahead of traffic without submitting content, deduplicating option sets
that fingerprint identically.

# Non-goals

This package does not download, verify, or select a CLI binary; it only
shells out to the path it is given. It exposes no HTTP, WebSocket, or CLI
surface of its own — embedding applications build those on top of Compile,
BatchCompile, Stats, and the event Bus.
*/
package tailwindpool
