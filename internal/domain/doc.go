// Package domain defines the core types and the interfaces the rest of the
// module is written against (reading store, user repository, session store,
// text decorator). No implementation code, just contracts.
package domain
