// Package watch normalizes Drive change signals from the push webhook and
// the polling fallback into a single ChangeEvent stream so downstream
// admission logic never cares which path observed a change first.
package watch
