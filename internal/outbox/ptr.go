package outbox

// Pointer helpers for building update bodies, where only fields the user
// touched are set.

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Float64 returns a pointer to f.
func Float64(f float64) *float64 { return &f }
