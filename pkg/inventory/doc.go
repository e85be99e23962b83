// Package inventory provides the host, group and defaults model used by herd.
//
// # Overview
//
// An Inventory owns an ordered set of Hosts, a set of Groups and exactly one
// Defaults record. Hosts and Groups carry first-class connection fields
// (hostname, port, username, password, platform), a free-form data bag,
// per-connection-kind overrides and an ordered list of parent groups.
//
// # Resolution
//
// Every lookup walks the ancestry of an element the same way:
//
//  1. the element's own value
//  2. its parent groups in declared order, depth-first, recursively
//  3. the inventory Defaults
//
// The walk keeps a visited set, so malformed cyclic group graphs terminate.
// Connection parameters for a connection kind are resolved field by field:
// the kind-specific override is searched along the whole walk first, then
// the element's base field is searched along the same walk.
//
// # Construction
//
// Inventories are usually built from Records returned by a Loader:
//
//	inv, err := inventory.Load(ctx, loader,
//	    inventory.WithTransform(func(h *inventory.Host) error {
//	        h.Set("managed", true)
//	        return nil
//	    }),
//	)
//
// Parent groups are referenced by name in Records and wired to Group values
// once every group has been created, so input order does not matter.
// A reference to a group that does not exist is a ConstructionError.
//
// Inventory order is the order hosts appear in the source, as reported by
// Records.HostOrder. Both bundled loaders fill it in. Hosts it omits come
// after the listed ones, sorted by name.
//
// # Selection
//
// Filter never mutates the receiver. It returns a new Inventory that shares
// Groups, Defaults and Host values with the original but holds only the
// matching hosts. The result can be filtered again.
//
// # Thread Safety
//
// Reads are safe from many goroutines. Writes to a host's data bag are only
// safe from the goroutine that currently owns the host during a run.
package inventory
