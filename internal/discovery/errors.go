package discovery

import "errors"

// ErrStructuralLimit reports that a streaming-parser safety cap (total bytes
// or single element size) was exceeded. It aborts the run on first occurrence
// and is never retried: it signals a parser-safety violation, not a transient
// fetch problem.
var ErrStructuralLimit = errors.New("structural size limit exceeded")

// ErrFailureCeiling reports that the per-child transient failure budget for a
// run was exhausted.
var ErrFailureCeiling = errors.New("child failure ceiling exceeded")

// errStopScan unwinds the streaming token loop when the scan stops early
// (URL cap reached or shutdown requested). Never returned to callers.
var errStopScan = errors.New("stop scan")
