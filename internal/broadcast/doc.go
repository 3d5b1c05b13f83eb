// Package broadcast implements the connection registry for live updates.
//
// The Registry owns two collections, identified handles grouped by user and a
// flat anonymous set, inside a single goroutine fed by a command channel (no
// mutexes). Each handle gets its own writer goroutine with a bounded buffer so
// a slow or dead peer never blocks delivery to the others. A broadcast returns
// once every target's write has finished or hit its deadline, and handles
// whose write failed are already removed by then. Anonymous writers also send
// a periodic ping frame; a failed ping removes the handle.
package broadcast
