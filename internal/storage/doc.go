package storage

// Package storage persists campaign run history.
//
// It is intentionally optional: with no driver configured the engine
// runs identically, and the CSV reports remain the canonical per-run
// artifact. History exists so operators can answer "what ran last
// week" without keeping every report file around.
