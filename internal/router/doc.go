// Package router resolves request paths to downstream routes.
//
// Routes are static descriptors loaded from configuration. Matching is a
// longest path-prefix match on segment boundaries: the prefix /api/tasks
// matches /api/tasks and /api/tasks/42 but not /api/tasksets.
package router
