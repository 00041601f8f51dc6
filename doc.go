// Package haul retrieves every asset of a remote-backed media vault
// to local storage, guaranteeing each asset is fully and verifiably
// present while surviving interruption, partial failure, and finite
// disk capacity.
//
// The engine is resumable: progress persists to a single JSON ledger,
// so a cancelled or crashed run picks up where it left off without
// repeating completed work. Transfers run on a bounded worker pool
// with per-asset retries, post-transfer verification, and a free-disk
// floor that winds the run down cleanly instead of filling the disk.
//
// # Basic Usage
//
// Wire a catalog, a transport, and an availability probe (one adapter
// usually implements all three), then run:
//
//	engine, err := haul.New(vault, vault, vault,
//	    haul.WithConcurrency(4),
//	    haul.WithStateFile(".haul/progress.json"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	summary, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("downloaded %d assets (%s)\n",
//	    summary.Downloaded, summary.StopReason)
//
// Cancelling ctx stops new work, lets in-flight transfers finish, and
// flushes the ledger before Run returns. Interrupted assets are not
// recorded, so the next run retries them fresh.
//
// # Verification
//
// A transfer that merely reports success is not trusted: after a
// configurable settle delay the engine asks the availability probe
// whether the content is genuinely present. A failed verification
// consumes a retry attempt like any transfer failure.
package haul
