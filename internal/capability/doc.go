// Package capability defines the closed catalog of on-chain actions an agent
// may be granted. Each Kind has a typed request and one Invoke branch; names
// coming from the planner or the model are validated here before anything
// runs.
package capability
