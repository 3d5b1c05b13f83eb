// Package database is the Postgres implementation of the reading store and
// user repository, built on pgx with tern-managed schema migrations.
//
// Ages of readings are computed inside Postgres (now() - created_at) so the
// cooldown decision never mixes the database clock with the server clock.
package database
