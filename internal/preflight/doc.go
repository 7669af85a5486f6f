// Package preflight provides readiness checks for the filesystem paths and
// catalog store that bomatch depends on.
//
// The CLI "bomatch check" command runs RunAll and renders the results;
// "bomatch match" runs the catalog check before opening a session so a
// missing or unreadable store fails fast with a readable message.
package preflight
