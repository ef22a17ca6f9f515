// Package mysql opens MySQL connection pools and applies the embedded schema
// migrations from deploy/migrations. Repositories built on top of it live in
// their own packages and receive the *sql.DB.
package mysql
