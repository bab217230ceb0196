// Package store provides persistence for campaigns, recipients, and
// tracking events. Postgres is the production backend; Memory is a
// mutex-protected implementation with identical semantics used in tests
// and for local development without a database.
package store
