// Package conv converts between integer widths with overflow checks.
package conv
