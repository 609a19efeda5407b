// Package instrument resolves client symbols to upstream instruments.
//
// The Cache holds the full instrument table of the configured classes and
// rebuilds it wholesale, never incrementally:
//
//	Resolve(ctx, "SPOT", "BTC-USDT")
//	  ├─ fresh hit            → return
//	  ├─ stale or miss        → rebuild (singleflight) → lookup again
//	  └─ still missing        → ErrUnknownInstrument
//
// Lookups take a read lock; the rebuild swaps both maps under the write
// lock after the upstream calls complete.
package instrument
