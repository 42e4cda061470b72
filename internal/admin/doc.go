// Package admin implements the administrator gate.
//
// Exactly one configured principal id is the administrator. The Gate lets
// that principal read aggregate usage for any period, read and set the
// global monthly unit budget, and mint internal credentials. Every other
// principal gets ErrNotAuthorized and learns nothing about aggregate state.
//
// Budget changes and minted credentials are recorded in the audit log on a
// best-effort basis.
package admin
