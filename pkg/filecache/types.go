package filecache

// ClientID identifies one connected client for the lifetime of its
// connection. The dispatcher chooses the value (typically the accepted
// socket's file descriptor); the core treats it as an opaque comparable key.
type ClientID int

// perm is a per-client permission bit, tracked per FileEntry.
type perm uint8

const (
	// permOpen is required for every per-client operation except the bulk
	// read (ReadN with ignoreOpen=true).
	permOpen perm = 1 << iota
	// permOwner marks the single client currently holding the exclusive
	// lock.
	permOwner
	// permWriteEligible gates the whole-file write primitive; set on
	// create/open-with-lock/lock-grant, cleared by any read or write.
	permWriteEligible
	// permWaiting marks a client blocked in the entry's waiters queue.
	permWaiting
)

// permSet is the set of perm bits held by one client on one entry. The zero
// value is the empty set.
type permSet uint8

func (s permSet) has(p perm) bool      { return s&permSet(p) != 0 }
func (s permSet) set(p perm) permSet   { return s | permSet(p) }
func (s permSet) clear(p perm) permSet { return s &^ permSet(p) }

// globalFlag is a per-entry flag independent of any client.
type globalFlag uint8

const (
	// flagLocked means some client exclusively holds write/remove rights.
	flagLocked globalFlag = 1 << iota
	// flagDirty means the payload was modified since creation.
	flagDirty
)

type globalFlags uint8

func (f globalFlags) has(flag globalFlag) bool          { return f&globalFlags(flag) != 0 }
func (f globalFlags) set(flag globalFlag) globalFlags   { return f | globalFlags(flag) }
func (f globalFlags) clear(flag globalFlag) globalFlags { return f &^ globalFlags(flag) }

// LockResult is returned by FileEntry.Lock (and Store.Lock) to tell the
// caller whether the request was granted immediately or queued.
type LockResult int

const (
	// Granted means the caller now holds the exclusive lock.
	Granted LockResult = iota
	// Blocked means the caller was queued behind the current holder; the
	// handler must suppress its reply until a later grant or failure.
	Blocked
)

func (r LockResult) String() string {
	if r == Granted {
		return "granted"
	}
	return "blocked"
}
