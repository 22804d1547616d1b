// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing observations, history sessions and stub
// executors. They are not intended for production usage.
package testutil
